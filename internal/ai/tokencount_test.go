package ai

import "testing"

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(\"\") = %d, want 0", got)
	}

	// 估算只要求量级合理：英文约 4 字符 1 token，中文约 1 字 1 token
	ascii := EstimateTokens("the quick brown fox jumps over the lazy dog")
	if ascii < 5 || ascii > 20 {
		t.Errorf("ascii estimate = %d, outside plausible range", ascii)
	}

	cjk := EstimateTokens("今天天气很好")
	if cjk < 3 || cjk > 10 {
		t.Errorf("cjk estimate = %d, outside plausible range", cjk)
	}

	// 更长的文本估算值必须更大
	if EstimateTokens("short") >= EstimateTokens("a considerably longer sentence with many more words in it") {
		t.Error("longer text should estimate more tokens")
	}
}

func TestEstimateMessageTokens(t *testing.T) {
	base := EstimateMessageTokens([]Message{UserMessage("hello world")})
	if base <= 4 {
		t.Errorf("estimate = %d, should include per-message overhead plus text", base)
	}

	withImage := EstimateMessageTokens([]Message{{
		Role: RoleUser,
		Contents: []Content{
			TextContent("hello world"),
			{Type: ContentFileURL, URL: "https://example.com/a.png", MediaType: "image/png"},
		},
	}})
	if withImage != base+85 {
		t.Errorf("image should add a flat 85 tokens: got %d, base %d", withImage, base)
	}

	if got := EstimateMessageTokens(nil); got != 0 {
		t.Errorf("EstimateMessageTokens(nil) = %d, want 0", got)
	}
}
