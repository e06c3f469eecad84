// Package balance 余额/配额计算 - 纯计算，无 I/O，可被多个并发 scope 安全使用
package balance

import "sync"

// UsageInfo 单个模型的次数/Token 余量或消耗
type UsageInfo struct {
	ModelID string
	Counts  int
	Tokens  int
}

// Sufficient 余量是否未透支
func (u UsageInfo) Sufficient() bool {
	return u.Counts >= 0 && u.Tokens >= 0
}

// InitialInfo 请求开始前采集的不可变余额快照
type InitialInfo struct {
	Usage   map[string]UsageInfo // modelID -> 余量
	Balance float64              // 货币余额
}

// NewInitialInfo 创建余额快照
func NewInitialInfo(usage []UsageInfo, currency float64) InitialInfo {
	m := make(map[string]UsageInfo, len(usage))
	for _, u := range usage {
		m[u.ModelID] = u
	}
	return InitialInfo{Usage: m, Balance: currency}
}

// ModelUsage 取指定模型的余量，未授权的模型按零处理
func (i InitialInfo) ModelUsage(modelID string) UsageInfo {
	if u, ok := i.Usage[modelID]; ok {
		return u
	}
	return UsageInfo{ModelID: modelID}
}

// Sufficient 所有模型余量非负且货币余额非负
func (i InitialInfo) Sufficient() bool {
	for _, u := range i.Usage {
		if !u.Sufficient() {
			return false
		}
	}
	return i.Balance >= 0
}

// Minus 快照减去一份消耗，返回新快照
func (i InitialInfo) Minus(cost CostInfo) InitialInfo {
	usage := make(map[string]UsageInfo, len(i.Usage))
	for k, v := range i.Usage {
		usage[k] = v
	}
	for modelID, c := range cost.Usage {
		if u, ok := usage[modelID]; ok {
			usage[modelID] = UsageInfo{ModelID: modelID, Counts: u.Counts - c.Counts, Tokens: u.Tokens - c.Tokens}
		} else {
			usage[modelID] = c
		}
	}
	return InitialInfo{Usage: usage, Balance: i.Balance - cost.TotalCost()}
}

// CostInfo 一个 scope（span）的消耗：按模型的次数/Token 加上货币费用
type CostInfo struct {
	Usage      map[string]UsageInfo
	InputCost  float64
	OutputCost float64
}

// TotalCost 货币总费用
func (c CostInfo) TotalCost() float64 {
	return c.InputCost + c.OutputCost
}

func singleCost(u UsageInfo, inputCost, outputCost float64) CostInfo {
	return CostInfo{
		Usage:      map[string]UsageInfo{u.ModelID: u},
		InputCost:  inputCost,
		OutputCost: outputCost,
	}
}

// CombineAll 合并多个 scope 的消耗 - 同模型逐项相加，费用相加
func CombineAll(costs []CostInfo) CostInfo {
	usage := map[string]UsageInfo{}
	var inputCost, outputCost float64
	for _, c := range costs {
		for modelID, u := range c.Usage {
			prev := usage[modelID]
			usage[modelID] = UsageInfo{ModelID: modelID, Counts: prev.Counts + u.Counts, Tokens: prev.Tokens + u.Tokens}
		}
		inputCost += c.InputCost
		outputCost += c.OutputCost
	}
	return CostInfo{Usage: usage, InputCost: inputCost, OutputCost: outputCost}
}

// Price 超额部分按 token 的货币单价
type Price struct {
	InputTokenPrice  float64
	OutputTokenPrice float64
}

// Calculator 跨 span 共享的配额分配器
// 每个 scope 只写自己的 key，读取只做快照求和，无需跨 scope 锁语义
type Calculator struct {
	initial InitialInfo

	mu    sync.RWMutex
	costs map[string]CostInfo // scopeID -> 当前消耗
}

// NewCalculator 基于快照创建分配器
func NewCalculator(initial InitialInfo) *Calculator {
	return &Calculator{initial: initial, costs: map[string]CostInfo{}}
}

func (c *Calculator) snapshotCosts(exceptScope string) []CostInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CostInfo, 0, len(c.costs))
	for scope, cost := range c.costs {
		if scope == exceptScope {
			continue
		}
		out = append(out, cost)
	}
	return out
}

// TotalCost 所有 scope 消耗之和
func (c *Calculator) TotalCost() CostInfo {
	return CombineAll(c.snapshotCosts(""))
}

// GetRemainingExcept 排除指定 scope 自身消耗后的剩余额度
// 对同一 scope 重复计价因此是幂等的
func (c *Calculator) GetRemainingExcept(scopeID string) InitialInfo {
	return c.initial.Minus(CombineAll(c.snapshotCosts(scopeID)))
}

// Sufficient 以全部 scope 的消耗评估余额是否仍然充足
func (c *Calculator) Sufficient() bool {
	return c.initial.Minus(c.TotalCost()).Sufficient()
}

// BalanceCost 全部 scope 的货币总费用（用于结算）
func (c *Calculator) BalanceCost() float64 {
	return c.TotalCost().TotalCost()
}

// UsageCosts 全部 scope 按模型聚合的配额消耗，过滤掉零项（用于结算）
func (c *Calculator) UsageCosts() []UsageInfo {
	var out []UsageInfo
	for _, u := range c.TotalCost().Usage {
		if u.Counts > 0 || u.Tokens > 0 {
			out = append(out, u)
		}
	}
	return out
}

// SetSpanCost 重算并覆盖一个 scope 的消耗
//
// 计价规则：
//  1. 剩余次数 > 0：恰好扣 1 次，忽略 token 量，不产生货币费用；
//  2. 剩余 token >= 输入+输出：全部由 token 余额覆盖；
//  3. 部分覆盖：先抵扣输出 token（单价通常更高），再抵扣输入 token，
//     余额之外的部分按单价折算为货币费用。
func (c *Calculator) SetSpanCost(scopeID, modelID string, inputTokens, outputTokens int, price Price) {
	remaining := c.GetRemainingExcept(scopeID).ModelUsage(modelID)

	var cost CostInfo
	switch {
	case remaining.Counts > 0:
		cost = singleCost(UsageInfo{ModelID: modelID, Counts: 1}, 0, 0)
	case remaining.Tokens >= inputTokens+outputTokens:
		cost = singleCost(UsageInfo{ModelID: modelID, Tokens: inputTokens + outputTokens}, 0, 0)
	default:
		// 示例：input=100, output=200, 剩余=250
		//   输出扣货币 0，余额剩 50，输入扣货币 50
		// 示例：input=100, output=200, 剩余=50
		//   输出扣货币 150，余额剩 0，输入扣货币 100
		remainingTokens := remaining.Tokens
		deductedOutput := max(0, outputTokens-remainingTokens)
		remainingTokens = max(0, remainingTokens-outputTokens)
		deductedInput := max(0, inputTokens-remainingTokens)

		cost = singleCost(
			UsageInfo{ModelID: modelID, Tokens: remaining.Tokens - remainingTokens},
			price.InputTokenPrice*float64(deductedInput),
			price.OutputTokenPrice*float64(deductedOutput),
		)
	}

	c.mu.Lock()
	c.costs[scopeID] = cost
	c.mu.Unlock()
}

// ScopedCost 取一个 scope 当前的消耗
func (c *Calculator) ScopedCost(scopeID string) CostInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.costs[scopeID]
}

// Scoped 绑定到单个 scope 的读写门面 - span 之间互不可见
func (c *Calculator) Scoped(scopeID string) *Scoped {
	return &Scoped{parent: c, scopeID: scopeID}
}

// Scoped 单 scope 门面
type Scoped struct {
	parent  *Calculator
	scopeID string
}

// Sufficient 见 Calculator.Sufficient
func (s *Scoped) Sufficient() bool { return s.parent.Sufficient() }

// Cost 本 scope 当前消耗
func (s *Scoped) Cost() CostInfo { return s.parent.ScopedCost(s.scopeID) }

// SetCost 重算本 scope 消耗
func (s *Scoped) SetCost(modelID string, inputTokens, outputTokens int, price Price) {
	s.parent.SetSpanCost(s.scopeID, modelID, inputTokens, outputTokens, price)
}
