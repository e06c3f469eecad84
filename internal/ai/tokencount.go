package ai

import (
	"sync"
	"unicode/utf8"

	"github.com/go-ego/gse"
)

var (
	segOnce   sync.Once
	segmenter gse.Segmenter
	segErr    error
)

// EstimateTokens 粗估一段文本的 token 数，用于上游未回报用量时兜底计费
// 以 gse 分词数为基数，CJK 文本每词约 1 token，其余按词长折算
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	segOnce.Do(func() {
		segmenter, segErr = gse.New()
	})
	if segErr != nil {
		// 分词器不可用时退化为按 4 字符 1 token 估算
		return (utf8.RuneCountInString(text) + 3) / 4
	}

	count := 0
	for _, word := range segmenter.Cut(text, true) {
		runes := utf8.RuneCountInString(word)
		switch {
		case runes <= 1:
			count++
		case word[0] < utf8.RuneSelf:
			// ASCII 词按约 4 字符 1 token
			count += (len(word) + 3) / 4
		default:
			count += runes
		}
	}
	return count
}

// EstimateMessageTokens 粗估一组消息的 token 数
func EstimateMessageTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		// 每条消息的角色与分隔符开销
		total += 4
		for _, c := range m.Contents {
			switch c.Type {
			case ContentText, ContentError:
				total += EstimateTokens(c.Text)
			case ContentThink:
				total += EstimateTokens(c.Think)
			case ContentToolCall:
				total += EstimateTokens(c.Args)
			case ContentToolCallResponse:
				total += EstimateTokens(c.Response)
			case ContentFileURL, ContentFileBlob:
				// 视觉输入按固定档位计
				total += 85
			}
		}
	}
	return total
}
