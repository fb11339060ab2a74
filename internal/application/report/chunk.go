package report

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// TelegramMessageLimit is the maximum message length accepted by the Bot API,
// counted in UTF-16 code units.
const TelegramMessageLimit = 4096

// Chunk splits text into pieces of at most limit UTF-16 code units,
// preferring line boundaries. Concatenating the pieces yields text.
func Chunk(text string, limit int) []string {
	if limit <= 0 {
		limit = TelegramMessageLimit
	}
	if text == "" {
		return nil
	}
	if utf16Len(text) <= limit {
		return []string{text}
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf16Len(line)
		if curLen+n > limit {
			flush()
		}
		if n <= limit {
			cur.WriteString(line)
			curLen += n
			continue
		}
		// A single line longer than the limit is cut at rune boundaries.
		// Bytes are copied as is, invalid UTF-8 included.
		for len(line) > 0 {
			r, size := utf8.DecodeRuneInString(line)
			w := utf16.RuneLen(r)
			if w < 0 {
				w = 1
			}
			if curLen+w > limit {
				flush()
			}
			cur.WriteString(line[:size])
			curLen += w
			line = line[size:]
		}
	}
	flush()
	return chunks
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if w := utf16.RuneLen(r); w > 0 {
			n += w
		} else {
			n++
		}
	}
	return n
}
