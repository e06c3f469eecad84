package model

import "testing"

func TestEnabledSpansSortedBySpanID(t *testing.T) {
	chat := &Chat{Spans: []ChatSpan{
		{SpanID: 2, Enabled: true, Config: ChatConfig{ModelID: "m2"}},
		{SpanID: 0, Enabled: false, Config: ChatConfig{ModelID: "m0"}},
		{SpanID: 1, Enabled: true, Config: ChatConfig{ModelID: "m1"}},
	}}

	got := chat.EnabledSpans()
	if len(got) != 2 {
		t.Fatalf("EnabledSpans() = %+v, want 2 spans", got)
	}
	// 存储顺序是 [2, 1]，返回顺序必须按 id 升序
	if got[0].SpanID != 1 || got[1].SpanID != 2 {
		t.Errorf("span order = [%d, %d], want [1, 2]", got[0].SpanID, got[1].SpanID)
	}
	if got[len(got)-1].SpanID != 2 {
		t.Errorf("last enabled span = %d, want 2", got[len(got)-1].SpanID)
	}
}

func TestFindSpan(t *testing.T) {
	chat := &Chat{Spans: []ChatSpan{
		{SpanID: 0, Config: ChatConfig{ModelID: "m0"}},
		{SpanID: 3, Config: ChatConfig{ModelID: "m3"}},
	}}

	sp, ok := chat.FindSpan(3)
	if !ok || sp.Config.ModelID != "m3" {
		t.Errorf("FindSpan(3) = %+v, %v", sp, ok)
	}
	if _, ok := chat.FindSpan(9); ok {
		t.Error("FindSpan(9) should miss")
	}
}

func TestChatSpanClone(t *testing.T) {
	temp := 0.7
	budget := 1024
	src := ChatSpan{SpanID: 1, Enabled: true, Config: ChatConfig{
		ModelID:        "m1",
		Temperature:    &temp,
		ThinkingBudget: &budget,
	}}

	clone := src.Clone()
	clone.Config.ModelID = "m2"
	*clone.Config.Temperature = 0.1
	*clone.Config.ThinkingBudget = 1

	if src.Config.ModelID != "m1" {
		t.Errorf("source model = %q, clone should not share", src.Config.ModelID)
	}
	if *src.Config.Temperature != 0.7 || *src.Config.ThinkingBudget != 1024 {
		t.Errorf("source config mutated: temp=%v budget=%v", *src.Config.Temperature, *src.Config.ThinkingBudget)
	}
}
