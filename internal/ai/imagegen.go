package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"pomelo/internal/model"
)

// imageGenerationAdapter 图片生成适配器
// 流式模式下上游按 partial_image 事件推送低清预览，completed 事件给出成品
type imageGenerationAdapter struct {
	def *model.ModelDef
}

func newImageGenerationAdapter(def *model.ModelDef) *imageGenerationAdapter {
	return &imageGenerationAdapter{def: def}
}

func (a *imageGenerationAdapter) upstreamModel() string {
	if a.def.DeploymentName != "" {
		return a.def.DeploymentName
	}
	return a.def.ModelID
}

// prompt 把全部消息的文本拍平为一个提示词
func imagePrompt(messages []Message) string {
	var buf bytes.Buffer
	for _, m := range messages {
		if text := plainText(m.Contents); text != "" {
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(text)
		}
	}
	return buf.String()
}

func (a *imageGenerationAdapter) post(ctx context.Context, body map[string]any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := hostOf(a.def, "https://api.openai.com/v1") + "/images/generations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
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

type imageEvent struct {
	Type    string `json:"type"`
	B64JSON string `json:"b64_json"`
	Usage   *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// ChatStreamed 流式生成：中间帧以预览片段下发，成品帧附带用量
func (a *imageGenerationAdapter) ChatStreamed(ctx context.Context, messages []Message, opts CallOptions) (*SegmentStream, error) {
	body := map[string]any{
		"model":          a.upstreamModel(),
		"prompt":         imagePrompt(messages),
		"stream":         true,
		"partial_images": 3,
	}
	resp, err := a.post(ctx, body)
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
			var event imageEvent
			if json.Unmarshal([]byte(data), &event) != nil {
				continue
			}
			switch event.Type {
			case "image_generation.partial_image":
				seg := Segment{Type: SegImage, Image: &ImageData{
					Base64:      event.B64JSON,
					ContentType: "image/png",
					Preview:     true,
				}}
				if !w.Send(ctx, seg) {
					return
				}
			case "image_generation.completed":
				seg := Segment{Type: SegImage, Image: &ImageData{
					Base64:      event.B64JSON,
					ContentType: "image/png",
				}}
				if !w.Send(ctx, seg) {
					return
				}
				if event.Usage != nil {
					u := TokenUsage{InputTokens: event.Usage.InputTokens, OutputTokens: event.Usage.OutputTokens}
					if !w.Send(ctx, UsageSegment(u)) {
						return
					}
				}
				finished = true
				if !w.Send(ctx, FinishSegment(FinishSuccess)) {
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

// Chat 同步生成，一次取回成品
func (a *imageGenerationAdapter) Chat(ctx context.Context, messages []Message, opts CallOptions) ([]Segment, TokenUsage, FinishReason, error) {
	body := map[string]any{
		"model":  a.upstreamModel(),
		"prompt": imagePrompt(messages),
	}
	resp, err := a.post(ctx, body)
	if err != nil {
		return nil, TokenUsage{}, FinishUpstreamError, err
	}
	defer resp.Body.Close()

	var payload struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
			URL     string `json:"url"`
		} `json:"data"`
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, TokenUsage{}, FinishUpstreamError, err
	}

	var items []Segment
	for _, d := range payload.Data {
		items = append(items, Segment{Type: SegImage, Image: &ImageData{
			Base64:      d.B64JSON,
			URL:         d.URL,
			ContentType: "image/png",
		}})
	}
	usage := TokenUsage{}
	if payload.Usage != nil {
		usage = TokenUsage{InputTokens: payload.Usage.InputTokens, OutputTokens: payload.Usage.OutputTokens}
	}
	return items, usage, FinishSuccess, nil
}
