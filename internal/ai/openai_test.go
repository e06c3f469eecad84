package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pomelo/internal/model"
)

// sseHandler 把给定的 data 行按 SSE 格式吐给客户端
func sseHandler(t *testing.T, capture *map[string]any, lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				t.Errorf("read request body: %v", err)
			}
			if err := json.Unmarshal(body, capture); err != nil {
				t.Errorf("unmarshal request body: %v", err)
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
		}
	}
}

func ccTestDef(host string) *model.ModelDef {
	return &model.ModelDef{
		ModelID:  "test-model",
		Provider: "custom",
		APIType:  model.APITypeChatCompletions,
		Key:      model.ModelKey{Host: host, Secret: "sk-test"},
	}
}

func newTestAdapter(t *testing.T, def *model.ModelDef) *chatCompletionsAdapter {
	spec, err := LookupProvider(def.Provider)
	if err != nil {
		t.Fatalf("LookupProvider() error = %v", err)
	}
	return newChatCompletionsAdapter(def, spec)
}

func collectAll(t *testing.T, stream *SegmentStream) ([]Segment, TokenUsage, FinishReason) {
	items, usage, reason, err := CollectStream(stream)
	if err != nil {
		t.Fatalf("CollectStream() error = %v", err)
	}
	return items, usage, reason
}

func TestChatStreamed_TextAndUsage(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, nil,
		`{"choices":[{"index":0,"delta":{"content":"Hello"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":", world"}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":7,"completion_tokens_details":{"reasoning_tokens":3},"prompt_tokens_details":{"cached_tokens":2}}}`,
		`[DONE]`,
	))
	defer srv.Close()

	a := newTestAdapter(t, ccTestDef(srv.URL))
	stream, err := a.ChatStreamed(context.Background(), []Message{UserMessage("hi")}, CallOptions{})
	if err != nil {
		t.Fatalf("ChatStreamed() error = %v", err)
	}

	items, usage, reason := collectAll(t, stream)

	if len(items) != 1 || items[0].Type != SegText {
		t.Fatalf("items = %+v, want single text segment", items)
	}
	if items[0].Text != "Hello, world" {
		t.Errorf("text = %q, want %q", items[0].Text, "Hello, world")
	}
	if reason != FinishSuccess {
		t.Errorf("reason = %v, want %v", reason, FinishSuccess)
	}
	want := TokenUsage{InputTokens: 12, OutputTokens: 7, ReasoningTokens: 3, CachedTokens: 2}
	if usage != want {
		t.Errorf("usage = %+v, want %+v", usage, want)
	}
}

func TestChatStreamed_ReasoningVariants(t *testing.T) {
	tests := []struct {
		name          string
		deltas        []string
		wantThink     string
		wantSignature bool
	}{
		{
			name: "string reasoning",
			deltas: []string{
				`{"choices":[{"index":0,"delta":{"reasoning_content":"thinking "}}]}`,
				`{"choices":[{"index":0,"delta":{"reasoning_content":"hard"}}]}`,
			},
			wantThink:     "thinking hard",
			wantSignature: false,
		},
		{
			name: "object reasoning keeps raw json as signature",
			deltas: []string{
				`{"choices":[{"index":0,"delta":{"reasoning_content":{"text":"step one","sig":"abc"}}}]}`,
			},
			wantThink:     "step one",
			wantSignature: true,
		},
		{
			name: "array reasoning concatenates texts",
			deltas: []string{
				`{"choices":[{"index":0,"delta":{"reasoning_content":[{"text":"a"},{"text":"b"}]}}]}`,
			},
			wantThink:     "ab",
			wantSignature: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := append(tt.deltas, `{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`)
			srv := httptest.NewServer(sseHandler(t, nil, lines...))
			defer srv.Close()

			a := newTestAdapter(t, ccTestDef(srv.URL))
			stream, err := a.ChatStreamed(context.Background(), []Message{UserMessage("hi")}, CallOptions{})
			if err != nil {
				t.Fatalf("ChatStreamed() error = %v", err)
			}
			items, _, _ := collectAll(t, stream)

			if len(items) != 1 || items[0].Type != SegThink {
				t.Fatalf("items = %+v, want single think segment", items)
			}
			if items[0].Think != tt.wantThink {
				t.Errorf("think = %q, want %q", items[0].Think, tt.wantThink)
			}
			if got := items[0].Signature != ""; got != tt.wantSignature {
				t.Errorf("signature present = %v, want %v (signature=%q)", got, tt.wantSignature, items[0].Signature)
			}
		})
	}
}

func TestChatStreamed_ToolCallAccumulation(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, nil,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"web_search","arguments":""}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	))
	defer srv.Close()

	a := newTestAdapter(t, ccTestDef(srv.URL))
	stream, err := a.ChatStreamed(context.Background(), []Message{UserMessage("hi")}, CallOptions{})
	if err != nil {
		t.Fatalf("ChatStreamed() error = %v", err)
	}
	items, _, reason := collectAll(t, stream)

	if reason != FinishToolCalls {
		t.Errorf("reason = %v, want %v", reason, FinishToolCalls)
	}
	if len(items) != 1 || items[0].Type != SegToolCall {
		t.Fatalf("items = %+v, want single tool_call segment", items)
	}
	tc := items[0].ToolCall
	if tc.ID != "call_1" || tc.Name != "web_search" {
		t.Errorf("tool call identity = (%q, %q), want (call_1, web_search)", tc.ID, tc.Name)
	}
	if tc.Args != `{"query":"go"}` {
		t.Errorf("args = %q, want %q", tc.Args, `{"query":"go"}`)
	}
}

func TestChatStreamed_MalformedLinesSkipped(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, nil,
		`not json at all`,
		`{"choices":[{"index":0,"delta":{"content":"ok"}}]}`,
		`: comment line`,
	))
	defer srv.Close()

	a := newTestAdapter(t, ccTestDef(srv.URL))
	stream, err := a.ChatStreamed(context.Background(), []Message{UserMessage("hi")}, CallOptions{})
	if err != nil {
		t.Fatalf("ChatStreamed() error = %v", err)
	}
	items, _, reason := collectAll(t, stream)

	if len(items) != 1 || items[0].Text != "ok" {
		t.Fatalf("items = %+v, want single 'ok' text segment", items)
	}
	// 上游没给 finish_reason，流结束时补一个成功终止
	if reason != FinishSuccess {
		t.Errorf("reason = %v, want %v", reason, FinishSuccess)
	}
}

func TestChatStreamed_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t, ccTestDef(srv.URL))
	_, err := a.ChatStreamed(context.Background(), []Message{UserMessage("hi")}, CallOptions{})
	if err == nil {
		t.Fatal("ChatStreamed() expected error, got nil")
	}
	upErr, ok := err.(*UpstreamError)
	if !ok {
		t.Fatalf("error type = %T, want *UpstreamError", err)
	}
	if upErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", upErr.StatusCode)
	}
	if !strings.Contains(upErr.Body, "rate limited") {
		t.Errorf("body = %q, want it to contain upstream message", upErr.Body)
	}
}

func TestBuildRequestBody(t *testing.T) {
	temp := 0.7
	maxTokens := 1024

	t.Run("max_tokens by default", func(t *testing.T) {
		a := newTestAdapter(t, ccTestDef("http://example.com"))
		body := a.buildRequestBody([]Message{UserMessage("hi")}, CallOptions{Temperature: &temp, MaxOutputTokens: &maxTokens}, true)

		if body["max_tokens"] != maxTokens {
			t.Errorf("max_tokens = %v, want %d", body["max_tokens"], maxTokens)
		}
		if _, ok := body["max_completion_tokens"]; ok {
			t.Error("max_completion_tokens should be absent")
		}
		if body["temperature"] != temp {
			t.Errorf("temperature = %v, want %v", body["temperature"], temp)
		}
		if body["stream"] != true {
			t.Error("stream should be true")
		}
		if _, ok := body["stream_options"]; !ok {
			t.Error("stream_options should request usage in stream")
		}
	})

	t.Run("max_completion_tokens when configured", func(t *testing.T) {
		def := ccTestDef("http://example.com")
		def.UseMaxCompletionTokens = true
		a := newTestAdapter(t, def)
		body := a.buildRequestBody([]Message{UserMessage("hi")}, CallOptions{MaxOutputTokens: &maxTokens}, false)

		if body["max_completion_tokens"] != maxTokens {
			t.Errorf("max_completion_tokens = %v, want %d", body["max_completion_tokens"], maxTokens)
		}
		if _, ok := body["max_tokens"]; ok {
			t.Error("max_tokens should be absent")
		}
		if _, ok := body["stream_options"]; ok {
			t.Error("non-streaming request should not carry stream_options")
		}
	})

	t.Run("unset options omitted entirely", func(t *testing.T) {
		a := newTestAdapter(t, ccTestDef("http://example.com"))
		body := a.buildRequestBody([]Message{UserMessage("hi")}, CallOptions{}, false)

		for _, key := range []string{"temperature", "top_p", "max_tokens", "max_completion_tokens", "user", "tools"} {
			if _, ok := body[key]; ok {
				t.Errorf("key %q should be omitted when unset", key)
			}
		}
	})

	t.Run("deployment name overrides model id", func(t *testing.T) {
		def := ccTestDef("http://example.com")
		def.DeploymentName = "gpt-deploy"
		a := newTestAdapter(t, def)
		body := a.buildRequestBody([]Message{UserMessage("hi")}, CallOptions{}, false)

		if body["model"] != "gpt-deploy" {
			t.Errorf("model = %v, want deployment name", body["model"])
		}
	})
}

func TestReasoningReplay(t *testing.T) {
	assistant := Message{
		Role: RoleAssistant,
		Contents: []Content{
			ThinkContent("shown text", `{"text":"shown text","sig":"opaque"}`),
			TextContent("answer"),
			ToolCallContent("call_1", "web_search", `{"q":"x"}`),
		},
	}

	t.Run("minimax replays signature verbatim", func(t *testing.T) {
		def := ccTestDef("")
		def.Provider = "minimax"
		var captured map[string]any
		srv := httptest.NewServer(sseHandler(t, &captured,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		))
		defer srv.Close()
		def.Key.Host = srv.URL

		a := newTestAdapter(t, def)
		stream, err := a.ChatStreamed(context.Background(), []Message{UserMessage("q"), assistant}, CallOptions{})
		if err != nil {
			t.Fatalf("ChatStreamed() error = %v", err)
		}
		collectAll(t, stream)

		if captured["reasoning_split"] != true {
			t.Error("minimax body should set reasoning_split")
		}
		msgs := captured["messages"].([]any)
		wire := msgs[1].(map[string]any)
		rc, ok := wire["reasoning_content"].(map[string]any)
		if !ok {
			t.Fatalf("reasoning_content = %v, want replayed object", wire["reasoning_content"])
		}
		if rc["sig"] != "opaque" {
			t.Errorf("signature payload lost in replay: %v", rc)
		}
	})

	t.Run("openai does not replay reasoning", func(t *testing.T) {
		var captured map[string]any
		srv := httptest.NewServer(sseHandler(t, &captured,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		))
		defer srv.Close()
		def := ccTestDef(srv.URL)
		def.Provider = "openai"

		a := newTestAdapter(t, def)
		stream, err := a.ChatStreamed(context.Background(), []Message{UserMessage("q"), assistant}, CallOptions{})
		if err != nil {
			t.Fatalf("ChatStreamed() error = %v", err)
		}
		collectAll(t, stream)

		msgs := captured["messages"].([]any)
		wire := msgs[1].(map[string]any)
		if _, ok := wire["reasoning_content"]; ok {
			t.Error("openai wire message should not carry reasoning_content")
		}
		if _, ok := wire["tool_calls"]; !ok {
			t.Error("assistant tool calls should still be replayed")
		}
	})
}

func TestUserContentMultipart(t *testing.T) {
	t.Run("pure text stays a string", func(t *testing.T) {
		got := userContent([]Content{TextContent("a"), TextContent("b")})
		if got != "ab" {
			t.Errorf("userContent() = %v, want concatenated string", got)
		}
	})

	t.Run("blob becomes data url part", func(t *testing.T) {
		got := userContent([]Content{
			TextContent("look"),
			{Type: ContentFileBlob, Blob: []byte{1, 2, 3}, MediaType: "image/png"},
		})
		parts, ok := got.([]map[string]any)
		if !ok || len(parts) != 2 {
			t.Fatalf("userContent() = %v, want 2 parts", got)
		}
		img := parts[1]["image_url"].(map[string]any)
		url := img["url"].(string)
		if !strings.HasPrefix(url, "data:image/png;base64,") {
			t.Errorf("blob url = %q, want data url", url)
		}
	})
}

func TestLookupProvider(t *testing.T) {
	t.Run("known providers resolve", func(t *testing.T) {
		for _, name := range []string{"openai", "azure", "deepseek", "minimax", "qwen", "zhipu", "siliconflow", "openrouter"} {
			if _, err := LookupProvider(name); err != nil {
				t.Errorf("LookupProvider(%q) error = %v", name, err)
			}
		}
	})

	t.Run("openrouter uses reasoning prop", func(t *testing.T) {
		spec, _ := LookupProvider("openrouter")
		if spec.ReasoningProp != "reasoning" {
			t.Errorf("ReasoningProp = %q, want %q", spec.ReasoningProp, "reasoning")
		}
	})

	t.Run("unknown provider falls back to openai dialect", func(t *testing.T) {
		spec, err := LookupProvider("my-proxy")
		if err != nil {
			t.Fatalf("LookupProvider() error = %v", err)
		}
		def := &model.ModelDef{Key: model.ModelKey{Host: "https://proxy.example.com/v1/"}}
		if got := spec.Endpoint(def); got != "https://proxy.example.com/v1/chat/completions" {
			t.Errorf("endpoint = %q", got)
		}
	})

	t.Run("empty provider rejected", func(t *testing.T) {
		if _, err := LookupProvider(""); err == nil {
			t.Error("LookupProvider(\"\") expected error")
		}
	})

	t.Run("azure endpoint and auth header", func(t *testing.T) {
		spec, _ := LookupProvider("azure")
		def := &model.ModelDef{
			DeploymentName: "gpt4o",
			Key:            model.ModelKey{Host: "https://res.openai.azure.com", Secret: "key123"},
		}
		wantURL := "https://res.openai.azure.com/openai/deployments/gpt4o/chat/completions?api-version=2024-10-21"
		if got := spec.Endpoint(def); got != wantURL {
			t.Errorf("endpoint = %q, want %q", got, wantURL)
		}
		req := httptest.NewRequest(http.MethodPost, wantURL, nil)
		spec.Authorize(req, "key123")
		if req.Header.Get("api-key") != "key123" {
			t.Error("azure should authenticate via api-key header")
		}
		if req.Header.Get("Authorization") != "" {
			t.Error("azure should not send bearer token")
		}
	})
}

func TestChat_NonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"choices":[{"index":0,"message":{"content":"full answer","reasoning_content":"brief think"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":5,"completion_tokens":9}
		}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t, ccTestDef(srv.URL))
	items, usage, reason, err := a.Chat(context.Background(), []Message{UserMessage("hi")}, CallOptions{})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reason != FinishSuccess {
		t.Errorf("reason = %v, want %v", reason, FinishSuccess)
	}
	if usage.InputTokens != 5 || usage.OutputTokens != 9 {
		t.Errorf("usage = %+v", usage)
	}
	if len(items) != 2 {
		t.Fatalf("items = %+v, want think + text", items)
	}
	if items[0].Type != SegThink || items[0].Think != "brief think" {
		t.Errorf("first segment = %+v, want think", items[0])
	}
	if items[1].Type != SegText || items[1].Text != "full answer" {
		t.Errorf("second segment = %+v, want text", items[1])
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %q, want /models", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		fmt.Fprint(w, `{"data":[{"id":"m-a"},{"id":"m-b"}]}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t, ccTestDef(srv.URL))
	ids, err := a.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "m-a" || ids[1] != "m-b" {
		t.Errorf("ids = %v", ids)
	}
}
