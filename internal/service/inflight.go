package service

import (
	"errors"
	"time"

	"pomelo/internal/ai"
	"pomelo/internal/balance"
	"pomelo/internal/model"
)

// ErrInsufficientBalance 配额与货币余额均不足以继续生成
var ErrInsufficientBalance = errors.New("insufficient balance")

// InflightSpan 单个 span 的生成期账本
// 边消费片段边重算消耗：上游未回报用量前按估算 token 占额，
// 余额耗尽立即切断，结束后以上游回报的真实用量覆盖估算
type InflightSpan struct {
	spanID byte
	def    *model.ModelDef
	scoped *balance.Scoped

	estimatedInput  int
	estimatedOutput int

	items        []ai.Segment
	usage        ai.TokenUsage
	usageKnown   bool
	segmentCount int
	finish       ai.FinishReason

	startedAt        time.Time
	firstReasoningAt time.Time
	firstResponseAt  time.Time
	finishedAt       time.Time
}

// NewInflightSpan 创建 span 账本
func NewInflightSpan(spanID byte, def *model.ModelDef, scoped *balance.Scoped, estimatedInput int) *InflightSpan {
	return &InflightSpan{
		spanID:         spanID,
		def:            def,
		scoped:         scoped,
		estimatedInput: estimatedInput,
		finish:         ai.FinishUnknownError,
		startedAt:      time.Now(),
	}
}

func (f *InflightSpan) price() balance.Price {
	return balance.Price{
		InputTokenPrice:  f.def.Price.InputTokenPrice,
		OutputTokenPrice: f.def.Price.OutputTokenPrice,
	}
}

// Precharge 生成开始前的零消耗预检
// 其他 span 已把额度吃光时当场拒绝，不发起上游调用
func (f *InflightSpan) Precharge() error {
	f.scoped.SetCost(f.def.ModelID, 0, 0, f.price())
	if !f.scoped.Sufficient() {
		return ErrInsufficientBalance
	}
	return nil
}

// Feed 记入一个片段并重新核算消耗
// 返回 ErrInsufficientBalance 表示余额耗尽，调用方应立即停止消费
func (f *InflightSpan) Feed(seg ai.Segment) error {
	now := time.Now()
	switch seg.Type {
	case ai.SegUsage:
		f.usage = *seg.Usage
		f.usageKnown = true
		f.scoped.SetCost(f.def.ModelID, f.usage.InputTokens, f.usage.OutputTokens, f.price())
		return nil
	case ai.SegFinishReason:
		f.finish = seg.FinishReason
		return nil
	case ai.SegThink:
		if f.firstReasoningAt.IsZero() {
			f.firstReasoningAt = now
		}
		f.estimatedOutput += ai.EstimateTokens(seg.Think)
	case ai.SegText:
		if f.firstResponseAt.IsZero() {
			f.firstResponseAt = now
		}
		f.estimatedOutput += ai.EstimateTokens(seg.Text)
	case ai.SegToolCall:
		if f.firstResponseAt.IsZero() {
			f.firstResponseAt = now
		}
		f.estimatedOutput += ai.EstimateTokens(seg.ToolCall.Args)
	case ai.SegImage:
		if f.firstResponseAt.IsZero() {
			f.firstResponseAt = now
		}
	}

	f.segmentCount++
	f.items = ai.AddMerged(f.items, seg)

	if !f.usageKnown {
		f.scoped.SetCost(f.def.ModelID, f.estimatedInput, f.estimatedOutput, f.price())
	}
	if !f.scoped.Sufficient() {
		f.finish = ai.FinishInsufficientBalance
		return ErrInsufficientBalance
	}
	return nil
}

// SetFinish 以外部原因收尾（取消、上游错误等）
func (f *InflightSpan) SetFinish(reason ai.FinishReason) {
	f.finish = reason
}

// Finish 当前终止原因
func (f *InflightSpan) Finish() ai.FinishReason {
	return f.finish
}

// Items 聚合后的片段
func (f *InflightSpan) Items() []ai.Segment {
	return f.items
}

// Close 定格账本：上游没给用量就落估算值，并做最终核算
func (f *InflightSpan) Close() {
	f.finishedAt = time.Now()
	if !f.usageKnown {
		f.usage = ai.TokenUsage{InputTokens: f.estimatedInput, OutputTokens: f.estimatedOutput}
		f.scoped.SetCost(f.def.ModelID, f.usage.InputTokens, f.usage.OutputTokens, f.price())
	}
}

func msSince(from, to time.Time) int {
	if from.IsZero() || to.IsZero() {
		return 0
	}
	return int(to.Sub(from).Milliseconds())
}

// ReasoningMs 首推理片段到首响应片段的毫秒数
func (f *InflightSpan) ReasoningMs() int {
	if f.firstReasoningAt.IsZero() {
		return 0
	}
	end := f.firstResponseAt
	if end.IsZero() {
		end = f.finishedAt
	}
	return msSince(f.firstReasoningAt, end)
}

// ToUsage 产出最终用量记录，Close 之后调用
func (f *InflightSpan) ToUsage() *model.MessageUsage {
	cost := f.scoped.Cost()
	return &model.MessageUsage{
		ModelID:         f.def.ModelID,
		FinishReason:    string(f.finish),
		SegmentCount:    f.segmentCount,
		InputTokens:     f.usage.InputTokens,
		OutputTokens:    f.usage.OutputTokens,
		ReasoningTokens: f.usage.ReasoningTokens,
		CachedTokens:    f.usage.CachedTokens,
		InputCost:       cost.InputCost,
		OutputCost:      cost.OutputCost,
		ReasoningMs:     f.ReasoningMs(),
		FirstResponseMs: msSince(f.startedAt, f.firstResponseAt),
		TotalMs:         msSince(f.startedAt, f.finishedAt),
		CreatedAt:       f.finishedAt,
	}
}
