package chunker

import "unicode"

// span is one word's position in rune offsets, plus its byte offsets
// for slicing the source string.
type span struct {
	start, end         int // runes
	byteStart, byteEnd int
}

// words splits text into maximal runs of non-space runes.
func words(text string) []span {
	var out []span
	inWord := false
	var cur span
	r := 0
	for b, c := range text {
		if unicode.IsSpace(c) {
			if inWord {
				cur.end, cur.byteEnd = r, b
				out = append(out, cur)
				inWord = false
			}
		} else if !inWord {
			cur = span{start: r, byteStart: b}
			inWord = true
		}
		r++
	}
	if inWord {
		cur.end, cur.byteEnd = r, len(text)
		out = append(out, cur)
	}
	return out
}

// WordCount counts words the same way the chunker windows them.
func WordCount(text string) int {
	return len(words(text))
}

// EstimateTokens gives a rough token count from the word count.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	// Roughly 0.75 words per token for English text.
	tokens := int(float64(WordCount(text)) * 1.33)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// Slice returns text between rune offsets start and end.
func Slice(text string, start, end int) string {
	rs := []rune(text)
	if start < 0 {
		start = 0
	}
	if end > len(rs) {
		end = len(rs)
	}
	if start >= end {
		return ""
	}
	return string(rs[start:end])
}
