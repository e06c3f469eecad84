package ai

import (
	"bufio"
	"io"
	"strings"
)

// sseScanner 逐条读取上游 SSE 事件的 data 负载
// 只关心 data: 行，其余字段（event/id/注释）跳过
type sseScanner struct {
	r *bufio.Reader
}

func newSSEScanner(r io.Reader) *sseScanner {
	return &sseScanner{r: bufio.NewReader(r)}
}

// Next 返回下一条 data 负载，流结束返回 io.EOF
func (s *sseScanner) Next() (string, error) {
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && line != "" {
				if data, ok := dataLine(line); ok {
					return data, nil
				}
			}
			return "", err
		}
		if data, ok := dataLine(line); ok {
			return data, nil
		}
	}
}

func dataLine(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if rest, ok := strings.CutPrefix(line, "data:"); ok {
		return strings.TrimPrefix(rest, " "), true
	}
	return "", false
}
