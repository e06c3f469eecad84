package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pomelo/internal/model"
)

func respTestDef(host string, background bool) *model.ModelDef {
	return &model.ModelDef{
		ModelID:          "o-test",
		Provider:         "openai",
		APIType:          model.APITypeResponses,
		UseBackgroundAPI: background,
		Key:              model.ModelKey{Host: host, Secret: "sk-test"},
	}
}

func TestResponsesStreamEvents(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, nil,
		`{"type":"response.created"}`,
		`{"type":"response.reasoning_summary_text.delta","delta":"pondering"}`,
		`{"type":"response.output_text.delta","delta":"hello "}`,
		`{"type":"response.output_text.delta","delta":"there"}`,
		`{"type":"response.completed","response":{"id":"resp_1","status":"completed","usage":{"input_tokens":11,"output_tokens":6,"output_tokens_details":{"reasoning_tokens":4}}}}`,
	))
	defer srv.Close()

	a := newResponsesAdapter(respTestDef(srv.URL, false))
	stream, err := a.ChatStreamed(context.Background(), []Message{UserMessage("hi")}, CallOptions{})
	if err != nil {
		t.Fatalf("ChatStreamed() error = %v", err)
	}
	items, usage, reason, err := CollectStream(stream)
	if err != nil {
		t.Fatalf("CollectStream() error = %v", err)
	}

	if reason != FinishSuccess {
		t.Errorf("reason = %v", reason)
	}
	if usage.InputTokens != 11 || usage.OutputTokens != 6 || usage.ReasoningTokens != 4 {
		t.Errorf("usage = %+v", usage)
	}
	if len(items) != 2 || items[0].Think != "pondering" || items[1].Text != "hello there" {
		t.Errorf("items = %+v", items)
	}
}

func TestResponsesStreamFunctionCall(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, nil,
		`{"type":"response.output_item.added","item":{"type":"function_call","call_id":"call_9","name":"web_search","arguments":""}}`,
		`{"type":"response.function_call_arguments.delta","delta":"{\"q\":"}`,
		`{"type":"response.function_call_arguments.delta","delta":"\"x\"}"}`,
		`{"type":"response.completed","response":{"id":"resp_1","status":"completed"}}`,
	))
	defer srv.Close()

	a := newResponsesAdapter(respTestDef(srv.URL, false))
	stream, err := a.ChatStreamed(context.Background(), []Message{UserMessage("hi")}, CallOptions{})
	if err != nil {
		t.Fatalf("ChatStreamed() error = %v", err)
	}
	items, _, reason, _ := CollectStream(stream)

	if reason != FinishToolCalls {
		t.Errorf("reason = %v, want %v", reason, FinishToolCalls)
	}
	if len(items) != 1 || items[0].Type != SegToolCall {
		t.Fatalf("items = %+v", items)
	}
	tc := items[0].ToolCall
	if tc.ID != "call_9" || tc.Name != "web_search" || tc.Args != `{"q":"x"}` {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestResponsesIncompleteMapsToLength(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, nil,
		`{"type":"response.output_text.delta","delta":"truncat"}`,
		`{"type":"response.incomplete","response":{"id":"resp_1","status":"incomplete"}}`,
	))
	defer srv.Close()

	a := newResponsesAdapter(respTestDef(srv.URL, false))
	stream, err := a.ChatStreamed(context.Background(), []Message{UserMessage("hi")}, CallOptions{})
	if err != nil {
		t.Fatalf("ChatStreamed() error = %v", err)
	}
	_, _, reason, _ := CollectStream(stream)
	if reason != FinishLength {
		t.Errorf("reason = %v, want %v", reason, FinishLength)
	}
}

func TestResponsesBackgroundPolling(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/responses":
			var body map[string]any
			raw, _ := io.ReadAll(r.Body)
			json.Unmarshal(raw, &body)
			if body["background"] != true {
				t.Error("submit should set background=true")
			}
			if body["stream"] != false {
				t.Error("background submit should not stream")
			}
			fmt.Fprint(w, `{"id":"resp_bg","status":"queued"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/responses/resp_bg":
			mu.Lock()
			polls++
			n := polls
			mu.Unlock()
			if n < 2 {
				fmt.Fprint(w, `{"id":"resp_bg","status":"in_progress"}`)
				return
			}
			fmt.Fprint(w, `{
				"id":"resp_bg","status":"completed",
				"output":[{"type":"message","content":[{"type":"output_text","text":"done"}]}],
				"usage":{"input_tokens":2,"output_tokens":1}
			}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	a := newResponsesAdapter(respTestDef(srv.URL, true))
	a.pollInterval = 10 * time.Millisecond

	stream, err := a.ChatStreamed(context.Background(), []Message{UserMessage("hi")}, CallOptions{})
	if err != nil {
		t.Fatalf("ChatStreamed() error = %v", err)
	}
	items, usage, reason, err := CollectStream(stream)
	if err != nil {
		t.Fatalf("CollectStream() error = %v", err)
	}
	if reason != FinishSuccess {
		t.Errorf("reason = %v", reason)
	}
	if len(items) != 1 || items[0].Text != "done" {
		t.Errorf("items = %+v", items)
	}
	if usage.InputTokens != 2 || usage.OutputTokens != 1 {
		t.Errorf("usage = %+v", usage)
	}
	mu.Lock()
	if polls < 2 {
		t.Errorf("polls = %d, want at least 2", polls)
	}
	mu.Unlock()
}

func TestResponsesBackgroundCancel(t *testing.T) {
	cancelled := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/responses":
			fmt.Fprint(w, `{"id":"resp_bg","status":"queued"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/responses/resp_bg/cancel":
			cancelled <- struct{}{}
			fmt.Fprint(w, `{"id":"resp_bg","status":"cancelled"}`)
		case r.Method == http.MethodGet:
			fmt.Fprint(w, `{"id":"resp_bg","status":"in_progress"}`)
		}
	}))
	defer srv.Close()

	a := newResponsesAdapter(respTestDef(srv.URL, true))
	a.pollInterval = time.Hour // 取消必须在首次轮询前就生效

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := a.ChatStreamed(ctx, []Message{UserMessage("hi")}, CallOptions{})
	if err != nil {
		t.Fatalf("ChatStreamed() error = %v", err)
	}
	cancel()

	_, _, reason, err := CollectStream(stream)
	if err != nil {
		t.Fatalf("CollectStream() error = %v", err)
	}
	if reason != FinishCancelled {
		t.Errorf("reason = %v, want %v", reason, FinishCancelled)
	}

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream cancel endpoint was never called")
	}
}

func TestToResponsesInput(t *testing.T) {
	input := toResponsesInput([]Message{
		SystemMessage("be brief"),
		UserMessage("question"),
		{Role: RoleAssistant, Contents: []Content{
			TextContent("partial"),
			ToolCallContent("call_1", "fn", `{}`),
		}},
		{Role: RoleTool, Contents: []Content{ToolResponseContent("call_1", "result")}},
	})

	if len(input) != 5 {
		t.Fatalf("input = %v, want 5 items (assistant splits into text + call)", input)
	}
	if input[0]["role"] != "system" {
		t.Errorf("item 0 = %v", input[0])
	}
	if input[3]["type"] != "function_call" || input[3]["call_id"] != "call_1" {
		t.Errorf("item 3 = %v", input[3])
	}
	fc := input[4]
	if fc["type"] != "function_call_output" || fc["output"] != "result" {
		t.Errorf("item 4 = %v", fc)
	}
}
