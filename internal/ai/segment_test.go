package ai

import "testing"

func TestAddMerged(t *testing.T) {
	t.Run("adjacent text concatenates", func(t *testing.T) {
		items := AddMerged(nil, TextSegment("foo"))
		items = AddMerged(items, TextSegment("bar"))

		if len(items) != 1 || items[0].Text != "foobar" {
			t.Errorf("items = %+v, want single foobar", items)
		}
	})

	t.Run("adjacent think concatenates both fields", func(t *testing.T) {
		items := AddMerged(nil, ThinkSegment("a", "s1"))
		items = AddMerged(items, ThinkSegment("b", "s2"))

		if len(items) != 1 {
			t.Fatalf("items = %+v, want single think", items)
		}
		if items[0].Think != "ab" || items[0].Signature != "s1s2" {
			t.Errorf("merged think = %+v", items[0])
		}
	})

	t.Run("text after think starts new segment", func(t *testing.T) {
		items := AddMerged(nil, ThinkSegment("reasoning", ""))
		items = AddMerged(items, TextSegment("answer"))
		items = AddMerged(items, TextSegment(" more"))

		if len(items) != 2 {
			t.Fatalf("items = %+v, want think + text", items)
		}
		if items[1].Text != "answer more" {
			t.Errorf("text = %q", items[1].Text)
		}
	})

	t.Run("tool call deltas accumulate by index", func(t *testing.T) {
		items := AddMerged(nil, Segment{Type: SegToolCall, ToolCall: &ToolCallDelta{Index: 0, ID: "c1", Name: "fn"}})
		items = AddMerged(items, Segment{Type: SegToolCall, ToolCall: &ToolCallDelta{Index: 0, Args: `{"a"`}})
		items = AddMerged(items, Segment{Type: SegToolCall, ToolCall: &ToolCallDelta{Index: 0, Args: `:1}`}})

		if len(items) != 1 {
			t.Fatalf("items = %+v, want single tool call", items)
		}
		tc := items[0].ToolCall
		if tc.ID != "c1" || tc.Name != "fn" || tc.Args != `{"a":1}` {
			t.Errorf("tool call = %+v", tc)
		}
	})

	t.Run("different index starts new tool call", func(t *testing.T) {
		items := AddMerged(nil, Segment{Type: SegToolCall, ToolCall: &ToolCallDelta{Index: 0, ID: "c1"}})
		items = AddMerged(items, Segment{Type: SegToolCall, ToolCall: &ToolCallDelta{Index: 1, ID: "c2"}})

		if len(items) != 2 {
			t.Fatalf("items = %+v, want two tool calls", items)
		}
	})

	t.Run("first id and name win", func(t *testing.T) {
		items := AddMerged(nil, Segment{Type: SegToolCall, ToolCall: &ToolCallDelta{Index: 0, ID: "c1", Name: "fn"}})
		items = AddMerged(items, Segment{Type: SegToolCall, ToolCall: &ToolCallDelta{Index: 0, ID: "later", Name: "other"}})

		if items[0].ToolCall.ID != "c1" || items[0].ToolCall.Name != "fn" {
			t.Errorf("tool call = %+v, later id/name should not overwrite", items[0].ToolCall)
		}
	})

	t.Run("images never merge", func(t *testing.T) {
		items := AddMerged(nil, Segment{Type: SegImage, Image: &ImageData{Base64: "a"}})
		items = AddMerged(items, Segment{Type: SegImage, Image: &ImageData{Base64: "b"}})

		if len(items) != 2 {
			t.Errorf("items = %+v, want two image segments", items)
		}
	})
}

func TestParseFinishReason(t *testing.T) {
	tests := []struct {
		in   string
		want FinishReason
	}{
		{"stop", FinishSuccess},
		{"end_turn", FinishSuccess},
		{"", FinishSuccess},
		{"length", FinishLength},
		{"max_tokens", FinishLength},
		{"tool_calls", FinishToolCalls},
		{"function_call", FinishToolCalls},
		{"content_filter", FinishContentFilter},
		{"something_new", FinishUnknownError},
		{"malfunction", FinishUnknownError},
	}
	for _, tt := range tests {
		if got := ParseFinishReason(tt.in); got != tt.want {
			t.Errorf("ParseFinishReason(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestImageDataKey(t *testing.T) {
	byURL := ImageData{URL: "https://cdn/img.png", Base64: "zzz"}
	if byURL.Key() != "https://cdn/img.png" {
		t.Errorf("Key() = %q, URL should win", byURL.Key())
	}

	a := ImageData{ContentType: "image/png", Base64: "abc"}
	b := ImageData{ContentType: "image/png", Base64: "abc"}
	c := ImageData{ContentType: "image/jpeg", Base64: "abc"}
	if a.Key() != b.Key() {
		t.Error("identical images should share a key")
	}
	if a.Key() == c.Key() {
		t.Error("different content types should not collide")
	}
}
