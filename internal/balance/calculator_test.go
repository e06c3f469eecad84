package balance

import (
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSetSpanCost(t *testing.T) {
	price := Price{InputTokenPrice: 1, OutputTokenPrice: 1}

	Convey("剩余次数大于零时恰好扣一次", t, func() {
		calc := NewCalculator(NewInitialInfo([]UsageInfo{
			{ModelID: "m1", Counts: 3, Tokens: 0},
		}, 0))

		calc.SetSpanCost("s0", "m1", 1000, 2000, price)

		cost := calc.ScopedCost("s0")
		So(cost.Usage["m1"].Counts, ShouldEqual, 1)
		So(cost.Usage["m1"].Tokens, ShouldEqual, 0)
		So(cost.TotalCost(), ShouldEqual, 0)
	})

	Convey("token 余额足够时全部由余额覆盖", t, func() {
		calc := NewCalculator(NewInitialInfo([]UsageInfo{
			{ModelID: "m1", Counts: 0, Tokens: 300},
		}, 0))

		calc.SetSpanCost("s0", "m1", 100, 200, price)

		cost := calc.ScopedCost("s0")
		So(cost.Usage["m1"].Tokens, ShouldEqual, 300)
		So(cost.TotalCost(), ShouldEqual, 0)
	})

	Convey("余额恰好等于用量也算完全覆盖", t, func() {
		calc := NewCalculator(NewInitialInfo([]UsageInfo{
			{ModelID: "m1", Counts: 0, Tokens: 300},
		}, 0))

		calc.SetSpanCost("s0", "m1", 150, 150, price)

		So(calc.ScopedCost("s0").TotalCost(), ShouldEqual, 0)
		So(calc.Sufficient(), ShouldBeTrue)
	})

	Convey("部分覆盖时先抵扣输出再抵扣输入", t, func() {
		Convey("剩余 250：输出全免，输入付 50", func() {
			calc := NewCalculator(NewInitialInfo([]UsageInfo{
				{ModelID: "m1", Counts: 0, Tokens: 250},
			}, 100))

			calc.SetSpanCost("s0", "m1", 100, 200, Price{InputTokenPrice: 1, OutputTokenPrice: 2})

			cost := calc.ScopedCost("s0")
			So(cost.Usage["m1"].Tokens, ShouldEqual, 250)
			So(cost.OutputCost, ShouldEqual, 0)
			So(cost.InputCost, ShouldEqual, 50)
		})

		Convey("剩余 50：输出付 150，输入付 100", func() {
			calc := NewCalculator(NewInitialInfo([]UsageInfo{
				{ModelID: "m1", Counts: 0, Tokens: 50},
			}, 1000))

			calc.SetSpanCost("s0", "m1", 100, 200, price)

			cost := calc.ScopedCost("s0")
			So(cost.Usage["m1"].Tokens, ShouldEqual, 50)
			So(cost.OutputCost, ShouldEqual, 150)
			So(cost.InputCost, ShouldEqual, 100)
		})
	})

	Convey("同一 scope 重复计价是幂等的", t, func() {
		calc := NewCalculator(NewInitialInfo([]UsageInfo{
			{ModelID: "m1", Counts: 0, Tokens: 100},
		}, 0))

		calc.SetSpanCost("s0", "m1", 30, 30, price)
		first := calc.ScopedCost("s0")
		calc.SetSpanCost("s0", "m1", 30, 30, price)
		second := calc.ScopedCost("s0")

		So(second.Usage["m1"].Tokens, ShouldEqual, first.Usage["m1"].Tokens)
		So(calc.TotalCost().Usage["m1"].Tokens, ShouldEqual, 60)
	})

	Convey("未授权模型按零余量处理", t, func() {
		calc := NewCalculator(NewInitialInfo(nil, 10))

		calc.SetSpanCost("s0", "mx", 5, 5, price)

		cost := calc.ScopedCost("s0")
		So(cost.Usage["mx"].Tokens, ShouldEqual, 0)
		So(cost.TotalCost(), ShouldEqual, 10)
		So(calc.Sufficient(), ShouldBeTrue)
	})
}

func TestSharedQuotaAcrossScopes(t *testing.T) {
	price := Price{InputTokenPrice: 1, OutputTokenPrice: 1}

	Convey("多个 scope 共享同一模型的余量时不会超发", t, func() {
		calc := NewCalculator(NewInitialInfo([]UsageInfo{
			{ModelID: "m1", Counts: 0, Tokens: 100},
		}, 0))

		calc.SetSpanCost("s0", "m1", 0, 60, price)
		calc.SetSpanCost("s1", "m1", 0, 60, price)

		total := calc.TotalCost()
		// 第二个 scope 只剩 40 token 余额，其余折算货币
		So(total.Usage["m1"].Tokens, ShouldEqual, 100)
		So(total.TotalCost(), ShouldEqual, 20)
		So(calc.Sufficient(), ShouldBeFalse)
	})

	Convey("GetRemainingExcept 排除自身消耗", t, func() {
		calc := NewCalculator(NewInitialInfo([]UsageInfo{
			{ModelID: "m1", Counts: 0, Tokens: 100},
		}, 0))

		calc.SetSpanCost("s0", "m1", 0, 30, price)
		calc.SetSpanCost("s1", "m1", 0, 20, price)

		So(calc.GetRemainingExcept("s0").ModelUsage("m1").Tokens, ShouldEqual, 80)
		So(calc.GetRemainingExcept("s1").ModelUsage("m1").Tokens, ShouldEqual, 70)
		So(calc.GetRemainingExcept("").ModelUsage("m1").Tokens, ShouldEqual, 50)
	})

	Convey("UsageCosts 过滤零消耗项", t, func() {
		calc := NewCalculator(NewInitialInfo([]UsageInfo{
			{ModelID: "m1", Counts: 0, Tokens: 100},
			{ModelID: "m2", Counts: 5, Tokens: 0},
		}, 0))

		calc.SetSpanCost("s0", "m1", 0, 10, price)

		costs := calc.UsageCosts()
		So(len(costs), ShouldEqual, 1)
		So(costs[0].ModelID, ShouldEqual, "m1")
		So(costs[0].Tokens, ShouldEqual, 10)
	})
}

func TestCalculatorConcurrency(t *testing.T) {
	// 每个 scope 并发写自己的消耗，收尾的汇总必须完整
	calc := NewCalculator(NewInitialInfo([]UsageInfo{
		{ModelID: "m1", Counts: 0, Tokens: 1000000},
	}, 0))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			scoped := calc.Scoped(string(rune('a' + n)))
			for j := 0; j < 100; j++ {
				scoped.SetCost("m1", 10, 10, Price{})
			}
		}(i)
	}
	wg.Wait()

	total := calc.TotalCost()
	if got := total.Usage["m1"].Tokens; got != 8*20 {
		t.Fatalf("total tokens = %d, want %d", got, 8*20)
	}
}
