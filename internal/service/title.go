package service

// deriveTitle 从首条用户文本截取会话标题，按 rune 截断不裁断多字节字符
func deriveTitle(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) > maxRunes {
		runes = runes[:maxRunes]
	}
	return string(runes)
}

// titleChunks 把标题拆成逐字符块，模拟打字机式下发
func titleChunks(title string) []string {
	runes := []rune(title)
	out := make([]string, 0, len(runes))
	for _, r := range runes {
		out = append(out, string(r))
	}
	return out
}
