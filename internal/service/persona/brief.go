package persona

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ashwinyue/persona-chat/internal/service/modelstream"
)

// ErrEmptyBrief 模型没有生成任何可用文本
var ErrEmptyBrief = errors.New("model returned an empty brief")

var (
	headingMarker  = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s*`)
	bulletMarker   = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	emphasisMarker = regexp.MustCompile(`\*{1,3}|_{2,3}|~~|` + "`")
	// 单下划线斜体只在词边界生效，snake_case 不受影响
	underscoreItalic = regexp.MustCompile(`\b_([^_\n]+?)_\b`)
	blankLines       = regexp.MustCompile(`\n{3,}`)
)

// StripMarkdown 去掉标题、列表和强调标记，保留文字
func StripMarkdown(s string) string {
	s = headingMarker.ReplaceAllString(s, "")
	s = bulletMarker.ReplaceAllString(s, "")
	s = emphasisMarker.ReplaceAllString(s, "")
	s = underscoreItalic.ReplaceAllString(s, "${1}")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// GenerateBrief 通过模型一次性生成开场简报
func GenerateBrief(ctx context.Context, streamer modelstream.Streamer, model string, cfg Config) (string, error) {
	_, prompt := BriefPrompt(cfg, nil)

	var b strings.Builder
	err := streamer.Stream(ctx, &modelstream.ChatRequest{
		Model:    model,
		Messages: []modelstream.Message{{Role: modelstream.RoleUser, Content: prompt}},
	}, func(text string) error {
		b.WriteString(text)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate brief: %w", err)
	}

	brief := StripMarkdown(b.String())
	if brief == "" {
		return "", ErrEmptyBrief
	}
	return brief, nil
}

// Title 取文本前若干字符作为会话标题，按字符而非字节截断
func Title(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return strings.TrimSpace(string(runes[:max]))
}
