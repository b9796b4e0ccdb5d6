// Package cleaner normalizes extracted section text before chunking.
package cleaner

import (
	"regexp"
	"strings"
	"unicode"
)

// Config tunes the line heuristics.
type Config struct {
	// MinRepeats is how often a short line must recur across the
	// document to count as page furniture.
	MinRepeats int
	// MaxFurnitureWords bounds the length of a furniture line.
	MaxFurnitureWords int
	// MaxTOCWords bounds the length of a table-of-contents line.
	MaxTOCWords int
	// MaxPasses caps the fixed-point iteration in Clean.
	MaxPasses int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinRepeats:        5,
		MaxFurnitureWords: 12,
		MaxTOCWords:       14,
		MaxPasses:         8,
	}
}

// Furniture is the set of normalized line keys treated as page headers
// and footers.
type Furniture map[string]struct{}

// Cleaner applies encoding repair, whitespace normalization, furniture
// removal and table-of-contents removal, in that order.
type Cleaner struct {
	cfg Config
}

// New returns a Cleaner, filling zero fields from DefaultConfig.
func New(cfg Config) *Cleaner {
	def := DefaultConfig()
	if cfg.MinRepeats <= 0 {
		cfg.MinRepeats = def.MinRepeats
	}
	if cfg.MaxFurnitureWords <= 0 {
		cfg.MaxFurnitureWords = def.MaxFurnitureWords
	}
	if cfg.MaxTOCWords <= 0 {
		cfg.MaxTOCWords = def.MaxTOCWords
	}
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = def.MaxPasses
	}
	return &Cleaner{cfg: cfg}
}

// Furniture scans a whole document for short lines that recur at least
// MinRepeats times. Digit runs are ignored when comparing lines so that
// "Page 12" and "Page 13" count as the same footer.
func (c *Cleaner) Furniture(doc string) Furniture {
	counts := make(map[string]int)
	for _, line := range normalizeLines(repairEncoding(doc)) {
		if !c.furnitureCandidate(line) {
			continue
		}
		counts[furnitureKey(line)]++
	}
	f := make(Furniture)
	for k, n := range counts {
		if n >= c.cfg.MinRepeats {
			f[k] = struct{}{}
		}
	}
	return f
}

// Clean normalizes one section. It repeats the full sequence of steps
// until the output stops changing, so Clean(Clean(x, f), f) == Clean(x, f).
func (c *Cleaner) Clean(text string, f Furniture) string {
	out := text
	for range c.cfg.MaxPasses {
		next := c.pass(out, f)
		if next == out {
			break
		}
		out = next
	}
	return out
}

// CleanDocument cleans text using furniture detected in text itself.
func (c *Cleaner) CleanDocument(text string) string {
	return c.Clean(text, c.Furniture(text))
}

func (c *Cleaner) pass(text string, f Furniture) string {
	text = repairEncoding(text)
	lines := normalizeLines(text)
	lines = c.stripFurniture(lines, f)
	lines = c.dropTOC(lines)
	return reflow(lines)
}

func (c *Cleaner) furnitureCandidate(line string) bool {
	if line == "" {
		return false
	}
	n := len(strings.Fields(line))
	if n > c.cfg.MaxFurnitureWords {
		return false
	}
	last, _ := lastRune(line)
	if strings.ContainsRune(".,;:?!", last) {
		return false
	}
	first, _ := firstRune(line)
	return !unicode.IsLower(first)
}

var digitRun = regexp.MustCompile(`\d+`)

func furnitureKey(line string) string {
	return strings.ToLower(digitRun.ReplaceAllString(line, "#"))
}

var (
	pageNumberLine = regexp.MustCompile(`(?i)^(?:page\s+)?[-–—]?\s*\d{1,4}\s*[-–—]?(?:\s+of\s+\d{1,4})?$`)
	romanPageLine  = regexp.MustCompile(`^[ivxlc]{1,7}$`)
	backLinkLine   = regexp.MustCompile(`(?i)^(?:table\s+of\s+contents|back\s+to\s+(?:table\s+of\s+)?contents|index\s+to\s+financial\s+statements)$`)
)

func (c *Cleaner) stripFurniture(lines []string, f Furniture) []string {
	out := lines[:0]
	for _, line := range lines {
		if line != "" {
			if pageNumberLine.MatchString(line) || romanPageLine.MatchString(line) || backLinkLine.MatchString(line) {
				continue
			}
			if isRuleLine(line) {
				continue
			}
			if _, ok := f[furnitureKey(line)]; ok && c.furnitureCandidate(line) {
				continue
			}
		}
		out = append(out, line)
	}
	return out
}

// isRuleLine matches separators such as "-----" or "* * *" that carry no
// letters or digits, and runs of one or two distinct characters.
func isRuleLine(line string) bool {
	hasAlnum := false
	distinct := make(map[rune]struct{}, 3)
	for _, r := range line {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			hasAlnum = true
		}
		if r != ' ' && len(distinct) < 3 {
			distinct[r] = struct{}{}
		}
	}
	if !hasAlnum {
		return true
	}
	return len([]rune(line)) >= 4 && len(distinct) <= 2
}

var (
	tocPageSuffix = regexp.MustCompile(`(?:^|[\s.·_])\d{1,3}$`)
	dotLeader     = regexp.MustCompile(`(?:\.\s?){3,}|·{3,}|_{3,}`)
	itemPrefix    = regexp.MustCompile(`(?i)^(?:item|part)\s*[0-9ivx]`)
)

func (c *Cleaner) dropTOC(lines []string) []string {
	out := lines[:0]
	for _, line := range lines {
		if line != "" && c.isTOCLine(line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

func (c *Cleaner) isTOCLine(line string) bool {
	if len(strings.Fields(line)) > c.cfg.MaxTOCWords {
		return false
	}
	if !tocPageSuffix.MatchString(line) {
		return false
	}
	if dotLeader.MatchString(line) || itemPrefix.MatchString(line) {
		return true
	}
	return titleCase(strings.TrimRight(line, "0123456789. ·_"))
}

var minorWords = map[string]bool{
	"a": true, "an": true, "and": true, "as": true, "for": true, "in": true,
	"of": true, "on": true, "or": true, "the": true, "to": true, "&": true,
}

// titleCase reports whether every significant word starts uppercase and
// there are at least two words with letters.
func titleCase(s string) bool {
	n := 0
	for i, w := range strings.Fields(s) {
		r, _ := firstRune(w)
		if !unicode.IsLetter(r) {
			continue
		}
		if i > 0 && minorWords[strings.ToLower(w)] {
			continue
		}
		if !unicode.IsUpper(r) {
			return false
		}
		n++
	}
	return n >= 2
}

// reflow joins lines within a paragraph with single spaces and separates
// paragraphs with one blank line.
func reflow(lines []string) string {
	var b strings.Builder
	inPara := false
	pendingBreak := false
	for _, line := range lines {
		if line == "" {
			if inPara {
				pendingBreak = true
			}
			inPara = false
			continue
		}
		switch {
		case pendingBreak:
			b.WriteString("\n\n")
			pendingBreak = false
		case inPara:
			b.WriteByte(' ')
		}
		b.WriteString(line)
		inPara = true
	}
	return b.String()
}

func firstRune(s string) (rune, bool) {
	for _, r := range s {
		return r, true
	}
	return 0, false
}

func lastRune(s string) (rune, bool) {
	rs := []rune(s)
	if len(rs) == 0 {
		return 0, false
	}
	return rs[len(rs)-1], true
}
