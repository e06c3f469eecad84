package ai

import (
	"context"
	"net/http/httptest"
	"testing"

	"pomelo/internal/model"
)

func TestImagePrompt(t *testing.T) {
	got := imagePrompt([]Message{
		SystemMessage("style: watercolor"),
		UserMessage("a cat"),
		{Role: RoleAssistant, Contents: []Content{ThinkContent("ignored", "")}},
	})
	want := "style: watercolor\na cat"
	if got != want {
		t.Errorf("imagePrompt() = %q, want %q", got, want)
	}
}

func TestImageGenerationStreaming(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(sseHandler(t, &captured,
		`{"type":"image_generation.partial_image","b64_json":"cDE="}`,
		`{"type":"image_generation.partial_image","b64_json":"cDI="}`,
		`{"type":"image_generation.completed","b64_json":"ZmluYWw=","usage":{"input_tokens":10,"output_tokens":600}}`,
	))
	defer srv.Close()

	def := &model.ModelDef{
		ModelID: "img-model",
		APIType: model.APITypeImageGeneration,
		Key:     model.ModelKey{Host: srv.URL, Secret: "sk"},
	}
	a := newImageGenerationAdapter(def)
	stream, err := a.ChatStreamed(context.Background(), []Message{UserMessage("a cat")}, CallOptions{})
	if err != nil {
		t.Fatalf("ChatStreamed() error = %v", err)
	}
	items, usage, reason, err := CollectStream(stream)
	if err != nil {
		t.Fatalf("CollectStream() error = %v", err)
	}

	if captured["partial_images"] != float64(3) {
		t.Errorf("partial_images = %v, want 3", captured["partial_images"])
	}
	if captured["prompt"] != "a cat" {
		t.Errorf("prompt = %v", captured["prompt"])
	}
	if reason != FinishSuccess {
		t.Errorf("reason = %v", reason)
	}
	if usage.InputTokens != 10 || usage.OutputTokens != 600 {
		t.Errorf("usage = %+v", usage)
	}
	if len(items) != 3 {
		t.Fatalf("items = %+v, want 2 previews + final", items)
	}
	if !items[0].Image.Preview || !items[1].Image.Preview {
		t.Error("first two images should be previews")
	}
	if items[2].Image.Preview || items[2].Image.Base64 != "ZmluYWw=" {
		t.Errorf("final image = %+v", items[2].Image)
	}
}
