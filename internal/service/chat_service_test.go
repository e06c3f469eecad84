package service

import (
	"context"
	"errors"
	"testing"

	"pomelo/internal/ai"
	"pomelo/internal/model"
)

// 新会话没有祖先路径，适配器拿到的上下文必须仍然包含本回合的用户消息
func TestBuildHistoryIncludesPendingUserMessage(t *testing.T) {
	s := &ChatService{}
	pending := &model.Message{
		Role: model.MessageRoleUser,
		Contents: []model.MessageContent{
			{Type: model.MessageContentText, Text: "看看这张图"},
			{Type: model.MessageContentFile, FileURL: "https://cdn/a.png", ContentType: "image/png"},
		},
	}

	history, err := s.buildHistory(context.Background(), nil, nil, pending)
	if err != nil {
		t.Fatalf("buildHistory() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history = %+v, want the pending user message", history)
	}

	last := history[len(history)-1]
	if last.Role != ai.RoleUser {
		t.Errorf("role = %q, want user", last.Role)
	}
	if len(last.Contents) != 2 {
		t.Fatalf("contents = %+v, want text + file", last.Contents)
	}
	if last.Contents[0].Text != "看看这张图" {
		t.Errorf("text = %q", last.Contents[0].Text)
	}
	if last.Contents[1].Type != ai.ContentFileURL || last.Contents[1].URL != "https://cdn/a.png" {
		t.Errorf("file content = %+v", last.Contents[1])
	}
}

func TestBuildHistoryWithoutPending(t *testing.T) {
	s := &ChatService{}
	history, err := s.buildHistory(context.Background(), nil, nil, nil)
	if err != nil {
		t.Fatalf("buildHistory() error = %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history = %+v, want empty", history)
	}
}

// 叶子指针跟随编号最大的 span，与传入顺序无关
func TestMaxSpanID(t *testing.T) {
	toGenerate := []genSpan{
		{span: model.ChatSpan{SpanID: 2}},
		{span: model.ChatSpan{SpanID: 0}},
		{span: model.ChatSpan{SpanID: 1}},
	}
	if got := maxSpanID(toGenerate); got != 2 {
		t.Errorf("maxSpanID() = %d, want 2", got)
	}

	single := []genSpan{{span: model.ChatSpan{SpanID: 7}}}
	if got := maxSpanID(single); got != 7 {
		t.Errorf("maxSpanID() = %d, want 7", got)
	}
}

func TestValidateSpans(t *testing.T) {
	ok := []model.ChatSpan{{SpanID: 0}, {SpanID: 1}, {SpanID: 2}}
	if err := validateSpans(ok); err != nil {
		t.Errorf("validateSpans() error = %v, want nil", err)
	}

	dup := []model.ChatSpan{{SpanID: 0}, {SpanID: 1}, {SpanID: 1}}
	if err := validateSpans(dup); !errors.Is(err, ErrDuplicateSpan) {
		t.Errorf("validateSpans() error = %v, want ErrDuplicateSpan", err)
	}

	if err := validateSpans(nil); err != nil {
		t.Errorf("validateSpans(nil) error = %v, want nil", err)
	}
}

func TestRequestContents(t *testing.T) {
	got := requestContents([]model.ContentRequestItem{
		{Type: model.MessageContentText, Text: "hi"},
		{Type: model.MessageContentFile, URL: "https://cdn/b.pdf"},
		{Type: "bogus", Text: "dropped"},
	})
	if len(got) != 2 {
		t.Fatalf("requestContents() = %+v, want 2 items", got)
	}
	if got[0].Text != "hi" || got[1].FileURL != "https://cdn/b.pdf" {
		t.Errorf("contents = %+v", got)
	}
}
