package cleaner

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// mojibake maps UTF-8 punctuation that was decoded as Windows-1252 back
// to the intended characters.
var mojibake = strings.NewReplacer(
	"â€™", "’",
	"â€˜", "‘",
	"â€œ", "“",
	"â€\u009d", "”",
	"â€“", "–",
	"â€”", "—",
	"â€¢", "•",
	"â€¦", "…",
	"Â\u00a0", " ",
	"Â§", "§",
	"Ã©", "é",
	"Ã¨", "è",
	"Ã¼", "ü",
	"Ã¶", "ö",
)

var invisible = strings.NewReplacer(
	"\u00ad", "", // soft hyphen
	"\u200b", "",
	"\u200c", "",
	"\u200d", "",
	"\ufeff", "",
	"\ufffd", "",
)

// repairEncoding fixes byte-level damage: invalid UTF-8, mojibake, stray
// entities, control characters and uuencoded or binary lines. The result
// is NFKC-normalized.
func repairEncoding(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = mojibake.Replace(s)
	if strings.ContainsRune(s, '&') {
		s = html.UnescapeString(s)
	}
	s = norm.NFKC.String(s)
	s = invisible.Replace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\t', '\r', '\f', '\v':
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return dropBinary(s)
}

var (
	uuBegin = regexp.MustCompile(`^begin [0-7]{3,4} \S+`)
	uuLine  = regexp.MustCompile("^M[\x21-\x60]{59,61}$")
)

// dropBinary removes uuencoded attachments and long unbroken tokens that
// are encoded payloads rather than prose.
func dropBinary(s string) string {
	if !strings.Contains(s, "\n") && !looksBinary(strings.TrimSpace(s)) {
		return s
	}
	lines := strings.Split(s, "\n")
	out := lines[:0]
	inBlock := false
	for _, line := range lines {
		t := strings.TrimSpace(line)
		switch {
		case inBlock:
			if t == "end" {
				inBlock = false
			}
			continue
		case uuBegin.MatchString(t):
			inBlock = true
			continue
		case looksBinary(t):
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func looksBinary(t string) bool {
	if uuLine.MatchString(t) {
		return true
	}
	return len(t) >= 60 && !strings.ContainsAny(t, " \t")
}

// normalizeLines splits text into trimmed lines with inner whitespace
// collapsed. Runs of blank lines become a single empty line.
func normalizeLines(s string) []string {
	s = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\f", "\n", "\v", "\n").Replace(s)
	raw := strings.Split(s, "\n")
	lines := make([]string, 0, len(raw))
	blank := true
	for _, line := range raw {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank {
				lines = append(lines, "")
			}
			blank = true
			continue
		}
		lines = append(lines, line)
		blank = false
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
