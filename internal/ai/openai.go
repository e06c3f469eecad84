package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pomelo/internal/model"
)

// chatCompletionsAdapter OpenAI 兼容 Chat Completions 适配器
// provider 方言差异全部由 ProviderSpec 承载
type chatCompletionsAdapter struct {
	def  *model.ModelDef
	spec ProviderSpec
}

func newChatCompletionsAdapter(def *model.ModelDef, spec ProviderSpec) *chatCompletionsAdapter {
	return &chatCompletionsAdapter{def: def, spec: spec}
}

func (a *chatCompletionsAdapter) upstreamModel() string {
	if a.def.DeploymentName != "" {
		return a.def.DeploymentName
	}
	return a.def.ModelID
}

// buildRequestBody 组装请求体，未设置的可选项整个字段省略
func (a *chatCompletionsAdapter) buildRequestBody(messages []Message, opts CallOptions, stream bool) map[string]any {
	body := map[string]any{
		"model":    a.upstreamModel(),
		"messages": a.toWireMessages(messages),
		"stream":   stream,
	}
	if stream {
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	if opts.Temperature != nil {
		body["temperature"] = *opts.Temperature
	}
	if opts.TopP != nil {
		body["top_p"] = *opts.TopP
	}
	if opts.MaxOutputTokens != nil {
		if a.def.UseMaxCompletionTokens {
			body["max_completion_tokens"] = *opts.MaxOutputTokens
		} else {
			body["max_tokens"] = *opts.MaxOutputTokens
		}
	}
	if opts.EndUserID != "" {
		body["user"] = opts.EndUserID
	}
	if len(opts.Tools) > 0 {
		tools := make([]map[string]any, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			})
		}
		body["tools"] = tools
		body["parallel_tool_calls"] = true
	}
	if a.spec.MutateBody != nil {
		a.spec.MutateBody(a.def, body)
	}
	return body
}

func (a *chatCompletionsAdapter) toWireMessages(messages []Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		out = append(out, a.toWireMessage(m))
	}
	return out
}

func (a *chatCompletionsAdapter) toWireMessage(m Message) map[string]any {
	switch m.Role {
	case RoleSystem:
		return map[string]any{"role": "system", "content": plainText(m.Contents)}
	case RoleTool:
		var parts []string
		var callID string
		for _, c := range m.Contents {
			if c.Type == ContentToolCallResponse {
				parts = append(parts, c.Response)
				callID = c.ToolCallID
			}
		}
		return map[string]any{
			"role":         "tool",
			"tool_call_id": callID,
			"content":      strings.Join(parts, "\n"),
		}
	case RoleAssistant:
		wire := map[string]any{"role": "assistant"}
		if text := plainText(m.Contents); text != "" {
			wire["content"] = text
		}
		toolCalls := m.ToolCalls()
		if len(toolCalls) > 0 {
			calls := make([]map[string]any, 0, len(toolCalls))
			for _, tc := range toolCalls {
				calls = append(calls, map[string]any{
					"id":   tc.ToolCallID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.ToolName,
						"arguments": tc.Args,
					},
				})
			}
			wire["tool_calls"] = calls
			// 带工具调用的助手消息回放思考内容，签名原文优先
			if a.spec.ReplayReasoning {
				if thinks := m.Thinks(); len(thinks) > 0 {
					t := thinks[0]
					if t.Signature != "" {
						wire[a.spec.ReasoningProp] = json.RawMessage(t.Signature)
					} else {
						wire[a.spec.ReasoningProp] = t.Think
					}
				}
			}
		}
		return wire
	default:
		return map[string]any{"role": "user", "content": userContent(m.Contents)}
	}
}

// plainText 拼接文本与错误内容，错误按普通文本回放
func plainText(contents []Content) string {
	var sb strings.Builder
	for _, c := range contents {
		switch c.Type {
		case ContentText:
			sb.WriteString(c.Text)
		case ContentError:
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}

// userContent 纯文本时返回字符串，含文件时返回 multipart 数组
func userContent(contents []Content) any {
	hasFile := false
	for _, c := range contents {
		if c.Type == ContentFileURL || c.Type == ContentFileBlob {
			hasFile = true
			break
		}
	}
	if !hasFile {
		return plainText(contents)
	}

	var parts []map[string]any
	for _, c := range contents {
		switch c.Type {
		case ContentText, ContentError:
			parts = append(parts, map[string]any{"type": "text", "text": c.Text})
		case ContentFileURL:
			parts = append(parts, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": c.URL},
			})
		case ContentFileBlob:
			dataURL := fmt.Sprintf("data:%s;base64,%s", c.MediaType, base64.StdEncoding.EncodeToString(c.Blob))
			parts = append(parts, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": dataURL},
			})
		}
	}
	return parts
}

func (a *chatCompletionsAdapter) post(ctx context.Context, body map[string]any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.spec.Endpoint(a.def), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	a.spec.Authorize(req, a.def.Key.Secret)

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

// 上游 chunk 的线格式
type ccChunk struct {
	Choices []ccChoice `json:"choices"`
	Usage   *ccUsage   `json:"usage"`
}

type ccChoice struct {
	Index        int             `json:"index"`
	Delta        json.RawMessage `json:"delta"`
	Message      json.RawMessage `json:"message"`
	FinishReason *string         `json:"finish_reason"`
}

type ccUsage struct {
	PromptTokens            int `json:"prompt_tokens"`
	CompletionTokens        int `json:"completion_tokens"`
	CompletionTokensDetails struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details"`
	PromptTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}

func (u *ccUsage) toTokenUsage() TokenUsage {
	return TokenUsage{
		InputTokens:     u.PromptTokens,
		OutputTokens:    u.CompletionTokens,
		ReasoningTokens: u.CompletionTokensDetails.ReasoningTokens,
		CachedTokens:    u.PromptTokensDetails.CachedTokens,
	}
}

type ccToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ChatStreamed 发起流式调用并持续转译 SSE 事件
func (a *chatCompletionsAdapter) ChatStreamed(ctx context.Context, messages []Message, opts CallOptions) (*SegmentStream, error) {
	resp, err := a.post(ctx, a.buildRequestBody(messages, opts, true))
	if err != nil {
		return nil, err
	}

	stream, w := Pipe()
	go func() {
		defer resp.Body.Close()
		defer w.Close()

		finished := false
		scanner := newSSEScanner(resp.Body)
		for {
			data, err := scanner.Next()
			if err != nil {
				break
			}
			if data == "[DONE]" {
				continue
			}
			var chunk ccChunk
			if json.Unmarshal([]byte(data), &chunk) != nil {
				// 非 JSON 的 data 行跳过
				continue
			}
			if chunk.Usage != nil {
				if !w.Send(ctx, UsageSegment(chunk.Usage.toTokenUsage())) {
					return
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			for _, seg := range a.deltaSegments(choice.Delta) {
				if !w.Send(ctx, seg) {
					return
				}
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finished = true
				if !w.Send(ctx, FinishSegment(ParseFinishReason(*choice.FinishReason))) {
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

// deltaSegments 把一条 delta 转译成零或多个片段
func (a *chatCompletionsAdapter) deltaSegments(raw json.RawMessage) []Segment {
	if len(raw) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		return nil
	}

	var out []Segment
	if rc, ok := fields[a.spec.ReasoningProp]; ok {
		if think, signature, ok := extractThinking(rc); ok && (think != "" || signature != "") {
			out = append(out, ThinkSegment(think, signature))
		}
	}
	if c, ok := fields["content"]; ok {
		var text string
		if json.Unmarshal(c, &text) == nil && text != "" {
			out = append(out, TextSegment(text))
		}
	}
	if tcRaw, ok := fields["tool_calls"]; ok {
		var calls []ccToolCall
		if json.Unmarshal(tcRaw, &calls) == nil {
			for _, tc := range calls {
				out = append(out, Segment{Type: SegToolCall, ToolCall: &ToolCallDelta{
					Index: tc.Index,
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Args:  tc.Function.Arguments,
				}})
			}
		}
	}
	return out
}

// extractThinking 解析推理字段的三种形态：
// 字符串直接作为展示文本；对象取 text 字段；数组拼接各元素文本。
// 对象/数组形态把原始 JSON 整体作为签名保留，回放时原样回传。
func extractThinking(raw json.RawMessage) (think, signature string, ok bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return "", "", false
	}
	switch trimmed[0] {
	case '"':
		var s string
		if json.Unmarshal(trimmed, &s) != nil {
			return "", "", false
		}
		return s, "", true
	case '{':
		var obj struct {
			Text string `json:"text"`
		}
		if json.Unmarshal(trimmed, &obj) != nil {
			return "", "", false
		}
		return obj.Text, string(trimmed), true
	case '[':
		var items []json.RawMessage
		if json.Unmarshal(trimmed, &items) != nil {
			return "", "", false
		}
		var sb strings.Builder
		for _, item := range items {
			if t, _, ok := extractThinking(item); ok {
				sb.WriteString(t)
			}
		}
		return sb.String(), string(trimmed), true
	default:
		return "", "", false
	}
}

// Chat 非流式调用，一次取回完整结果
func (a *chatCompletionsAdapter) Chat(ctx context.Context, messages []Message, opts CallOptions) ([]Segment, TokenUsage, FinishReason, error) {
	resp, err := a.post(ctx, a.buildRequestBody(messages, opts, false))
	if err != nil {
		return nil, TokenUsage{}, FinishUpstreamError, err
	}
	defer resp.Body.Close()

	var chunk ccChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return nil, TokenUsage{}, FinishUpstreamError, err
	}

	var items []Segment
	usage := TokenUsage{}
	reason := FinishSuccess
	if chunk.Usage != nil {
		usage = chunk.Usage.toTokenUsage()
	}
	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]
		for _, seg := range a.deltaSegments(choice.Message) {
			items = AddMerged(items, seg)
		}
		if choice.FinishReason != nil {
			reason = ParseFinishReason(*choice.FinishReason)
		}
	}
	return items, usage, reason, nil
}

// ListModels 枚举上游可用模型（管理端校验用）
func (a *chatCompletionsAdapter) ListModels(ctx context.Context) ([]string, error) {
	url := hostOf(a.def, a.spec.DefaultHost) + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	a.spec.Authorize(req, a.def.Key.Secret)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var payload struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(payload.Data))
	for _, m := range payload.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
