package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"pomelo/internal/model"
)

// responsesAdapter OpenAI Responses API 适配器
// 支持流式与 background 两种模式：background 下提交后轮询，
// 请求被取消时调用上游 cancel 端点而不是静默断连
type responsesAdapter struct {
	def          *model.ModelDef
	pollInterval time.Duration
}

func newResponsesAdapter(def *model.ModelDef) *responsesAdapter {
	return &responsesAdapter{def: def, pollInterval: 2 * time.Second}
}

func (a *responsesAdapter) baseURL() string {
	return hostOf(a.def, "https://api.openai.com/v1")
}

func (a *responsesAdapter) upstreamModel() string {
	if a.def.DeploymentName != "" {
		return a.def.DeploymentName
	}
	return a.def.ModelID
}

func (a *responsesAdapter) buildBody(messages []Message, opts CallOptions, stream, background bool) map[string]any {
	body := map[string]any{
		"model":      a.upstreamModel(),
		"input":      toResponsesInput(messages),
		"stream":     stream,
		"background": background,
	}
	if opts.Temperature != nil {
		body["temperature"] = *opts.Temperature
	}
	if opts.MaxOutputTokens != nil {
		body["max_output_tokens"] = *opts.MaxOutputTokens
	}
	if opts.ReasoningEffort != "" {
		body["reasoning"] = map[string]any{"effort": opts.ReasoningEffort}
	}
	if opts.EndUserID != "" {
		body["user"] = opts.EndUserID
	}
	if len(opts.Tools) > 0 {
		tools := make([]map[string]any, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			tools = append(tools, map[string]any{
				"type":        "function",
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			})
		}
		body["tools"] = tools
	}
	return body
}

func toResponsesInput(messages []Message) []map[string]any {
	var out []map[string]any
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, map[string]any{
				"role":    "system",
				"content": []map[string]any{{"type": "input_text", "text": plainText(m.Contents)}},
			})
		case RoleTool:
			for _, c := range m.Contents {
				if c.Type == ContentToolCallResponse {
					out = append(out, map[string]any{
						"type":    "function_call_output",
						"call_id": c.ToolCallID,
						"output":  c.Response,
					})
				}
			}
		case RoleAssistant:
			if text := plainText(m.Contents); text != "" {
				out = append(out, map[string]any{
					"role":    "assistant",
					"content": []map[string]any{{"type": "output_text", "text": text}},
				})
			}
			for _, tc := range m.ToolCalls() {
				out = append(out, map[string]any{
					"type":      "function_call",
					"call_id":   tc.ToolCallID,
					"name":      tc.ToolName,
					"arguments": tc.Args,
				})
			}
		default:
			var parts []map[string]any
			for _, c := range m.Contents {
				switch c.Type {
				case ContentText, ContentError:
					parts = append(parts, map[string]any{"type": "input_text", "text": c.Text})
				case ContentFileURL:
					parts = append(parts, map[string]any{"type": "input_image", "image_url": c.URL})
				}
			}
			out = append(out, map[string]any{"role": "user", "content": parts})
		}
	}
	return out
}

func (a *responsesAdapter) do(ctx context.Context, method, url string, body map[string]any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+a.def.Key.Secret)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, nil
}

// responseObject Responses API 的响应对象
type responseObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
	Output []responseItem `json:"output"`
	Usage  *respUsage     `json:"usage"`
}

type responseItem struct {
	Type      string `json:"type"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Content   []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type respUsage struct {
	InputTokens        int `json:"input_tokens"`
	OutputTokens       int `json:"output_tokens"`
	OutputTokenDetails struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"output_tokens_details"`
	InputTokenDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"input_tokens_details"`
}

func (u *respUsage) toTokenUsage() TokenUsage {
	return TokenUsage{
		InputTokens:     u.InputTokens,
		OutputTokens:    u.OutputTokens,
		ReasoningTokens: u.OutputTokenDetails.ReasoningTokens,
		CachedTokens:    u.InputTokenDetails.CachedTokens,
	}
}

// statusFinish 终态状态映射：incomplete 视为达到长度上限，
// failed 按内容过滤处理并附带错误信息
func statusFinish(obj *responseObject, sawToolCall bool) FinishReason {
	switch obj.Status {
	case "incomplete":
		return FinishLength
	case "failed":
		return FinishContentFilter
	default:
		if sawToolCall {
			return FinishToolCalls
		}
		return FinishSuccess
	}
}

// ChatStreamed background 模式提交后轮询，否则走上游 SSE
func (a *responsesAdapter) ChatStreamed(ctx context.Context, messages []Message, opts CallOptions) (*SegmentStream, error) {
	if a.def.UseBackgroundAPI {
		return a.streamBackground(ctx, messages, opts)
	}
	return a.streamEvents(ctx, messages, opts)
}

func (a *responsesAdapter) streamEvents(ctx context.Context, messages []Message, opts CallOptions) (*SegmentStream, error) {
	resp, err := a.do(ctx, http.MethodPost, a.baseURL()+"/responses", a.buildBody(messages, opts, true, false))
	if err != nil {
		return nil, err
	}

	stream, w := Pipe()
	go func() {
		defer resp.Body.Close()
		defer w.Close()

		finished := false
		fcIndex := 0
		scanner := newSSEScanner(resp.Body)
		for {
			data, err := scanner.Next()
			if err != nil {
				break
			}
			var event struct {
				Type     string          `json:"type"`
				Delta    string          `json:"delta"`
				Item     *responseItem   `json:"item"`
				Response *responseObject `json:"response"`
				Message  string          `json:"message"`
			}
			if json.Unmarshal([]byte(data), &event) != nil {
				continue
			}
			switch event.Type {
			case "error":
				finished = true
				if !w.Send(ctx, FinishSegment(FinishUpstreamError)) {
					return
				}
			case "response.output_text.delta":
				if event.Delta != "" && !w.Send(ctx, TextSegment(event.Delta)) {
					return
				}
			case "response.reasoning_summary_text.delta":
				if event.Delta != "" && !w.Send(ctx, ThinkSegment(event.Delta, "")) {
					return
				}
			case "response.output_item.added":
				if event.Item != nil && event.Item.Type == "function_call" {
					seg := Segment{Type: SegToolCall, ToolCall: &ToolCallDelta{
						Index: fcIndex,
						ID:    event.Item.CallID,
						Name:  event.Item.Name,
						Args:  event.Item.Arguments,
					}}
					fcIndex++
					if !w.Send(ctx, seg) {
						return
					}
				}
			case "response.function_call_arguments.delta":
				seg := Segment{Type: SegToolCall, ToolCall: &ToolCallDelta{Index: fcIndex - 1, Args: event.Delta}}
				if !w.Send(ctx, seg) {
					return
				}
			case "response.completed", "response.incomplete", "response.failed":
				if event.Response == nil {
					continue
				}
				if event.Response.Usage != nil {
					if !w.Send(ctx, UsageSegment(event.Response.Usage.toTokenUsage())) {
						return
					}
				}
				finished = true
				if !w.Send(ctx, FinishSegment(statusFinish(event.Response, fcIndex > 0))) {
					return
				}
			}
		}
		if !finished {
			w.Send(ctx, FinishSegment(FinishSuccess))
		}
	}()
	return stream, nil
}

// streamBackground 提交后台任务并每 2 秒轮询一次；
// 调用方取消时通知上游 cancel，任务不在服务端空转
func (a *responsesAdapter) streamBackground(ctx context.Context, messages []Message, opts CallOptions) (*SegmentStream, error) {
	resp, err := a.do(ctx, http.MethodPost, a.baseURL()+"/responses", a.buildBody(messages, opts, false, true))
	if err != nil {
		return nil, err
	}
	var submitted responseObject
	decodeErr := json.NewDecoder(resp.Body).Decode(&submitted)
	resp.Body.Close()
	if decodeErr != nil {
		return nil, decodeErr
	}

	stream, w := Pipe()
	go func() {
		defer w.Close()

		obj := &submitted
		for obj.Status == "queued" || obj.Status == "in_progress" {
			select {
			case <-ctx.Done():
				cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if r, err := a.do(cancelCtx, http.MethodPost, a.baseURL()+"/responses/"+submitted.ID+"/cancel", nil); err == nil {
					r.Body.Close()
				}
				cancel()
				w.Send(context.Background(), FinishSegment(FinishCancelled))
				return
			case <-time.After(a.pollInterval):
			}

			r, err := a.do(ctx, http.MethodGet, a.baseURL()+"/responses/"+submitted.ID, nil)
			if err != nil {
				w.Send(ctx, FinishSegment(FinishUpstreamError))
				return
			}
			var next responseObject
			decodeErr := json.NewDecoder(r.Body).Decode(&next)
			r.Body.Close()
			if decodeErr != nil {
				w.Send(ctx, FinishSegment(FinishUpstreamError))
				return
			}
			obj = &next
		}
		a.emitFinal(ctx, w, obj)
	}()
	return stream, nil
}

func (a *responsesAdapter) emitFinal(ctx context.Context, w *SegmentWriter, obj *responseObject) {
	sawToolCall := false
	fcIndex := 0
	for _, item := range obj.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				if c.Text != "" && !w.Send(ctx, TextSegment(c.Text)) {
					return
				}
			}
		case "function_call":
			sawToolCall = true
			seg := Segment{Type: SegToolCall, ToolCall: &ToolCallDelta{
				Index: fcIndex,
				ID:    item.CallID,
				Name:  item.Name,
				Args:  item.Arguments,
			}}
			fcIndex++
			if !w.Send(ctx, seg) {
				return
			}
		}
	}
	if obj.Usage != nil {
		if !w.Send(ctx, UsageSegment(obj.Usage.toTokenUsage())) {
			return
		}
	}
	w.Send(ctx, FinishSegment(statusFinish(obj, sawToolCall)))
}

// Chat 非流式路径复用流式实现并聚合
func (a *responsesAdapter) Chat(ctx context.Context, messages []Message, opts CallOptions) ([]Segment, TokenUsage, FinishReason, error) {
	stream, err := a.ChatStreamed(ctx, messages, opts)
	if err != nil {
		return nil, TokenUsage{}, FinishUpstreamError, err
	}
	defer stream.Close()
	return CollectStream(stream)
}
