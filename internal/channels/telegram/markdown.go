package telegram

import (
	"fmt"
	"regexp"
	"strings"
)

// Telegram's HTML mode accepts a small tag set (b, i, s, a, code, pre) and
// rejects the whole message on any malformed entity, so conversion escapes
// everything first and re-inserts code spans afterwards.

var (
	codeBlockRe  = regexp.MustCompile("```[\\w]*\\n?([\\s\\S]*?)```")
	inlineCodeRe = regexp.MustCompile("`([^`]+)`")
	headingRe    = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	quoteRe      = regexp.MustCompile(`(?m)^>\s*(.*)$`)
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldAltRe    = regexp.MustCompile(`__(.+?)__`)
	italicRe     = regexp.MustCompile(`_([^_]+)_`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
)

// markdownToHTML converts common Markdown constructs to Telegram HTML.
// Code spans are extracted before escaping so their contents survive verbatim.
func markdownToHTML(text string) string {
	if text == "" {
		return ""
	}

	var blocks, inlines []string
	text = codeBlockRe.ReplaceAllStringFunc(text, func(m string) string {
		code := codeBlockRe.FindStringSubmatch(m)[1]
		blocks = append(blocks, code)
		return fmt.Sprintf("\x00CB%d\x00", len(blocks)-1)
	})
	text = inlineCodeRe.ReplaceAllStringFunc(text, func(m string) string {
		code := inlineCodeRe.FindStringSubmatch(m)[1]
		inlines = append(inlines, code)
		return fmt.Sprintf("\x00IC%d\x00", len(inlines)-1)
	})

	// Headings become bold lines; quote markers are stripped.
	text = headingRe.ReplaceAllString(text, "**$1**")
	text = quoteRe.ReplaceAllString(text, "$1")

	text = escapeHTML(text)

	text = linkRe.ReplaceAllString(text, `<a href="$2">$1</a>`)
	text = boldRe.ReplaceAllString(text, "<b>$1</b>")
	text = boldAltRe.ReplaceAllString(text, "<b>$1</b>")
	text = italicRe.ReplaceAllString(text, "<i>$1</i>")
	text = strikeRe.ReplaceAllString(text, "<s>$1</s>")

	for i, code := range inlines {
		placeholder := fmt.Sprintf("\x00IC%d\x00", i)
		text = strings.ReplaceAll(text, placeholder, "<code>"+escapeHTML(code)+"</code>")
	}
	for i, code := range blocks {
		placeholder := fmt.Sprintf("\x00CB%d\x00", i)
		text = strings.ReplaceAll(text, placeholder, "<pre><code>"+escapeHTML(code)+"</code></pre>")
	}

	return text
}

func escapeHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}

// splitMessage breaks text into chunks of at most max characters, preferring
// line boundaries. A single overlong line is hard-split at rune boundaries.
func splitMessage(text string, max int) []string {
	if max <= 0 || len(text) <= max {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	for _, line := range strings.Split(text, "\n") {
		for len(line) > max {
			if current.Len() > 0 {
				chunks = append(chunks, strings.TrimRight(current.String(), "\n"))
				current.Reset()
			}
			cut := max
			for cut > 0 && !isRuneStart(line[cut]) {
				cut--
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if current.Len()+len(line)+1 > max && current.Len() > 0 {
			chunks = append(chunks, strings.TrimRight(current.String(), "\n"))
			current.Reset()
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	if trimmed := strings.TrimRight(current.String(), "\n"); trimmed != "" {
		chunks = append(chunks, trimmed)
	}
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	return chunks
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
