// Package section locates the analytical sections of a filing by its
// numbered item headings.
package section

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/dgallion1/filingest/internal/filing"
	"github.com/dgallion1/filingest/internal/parser"
)

// ErrNoSections is returned by callers when no target label was located.
var ErrNoSections = errors.New("no target sections located")

// Label names a target section.
type Label string

const (
	Business    Label = "business"
	RiskFactors Label = "risk_factors"
	MDA         Label = "mda"
)

// Labels is the closed set of target labels in output order.
var Labels = []Label{Business, RiskFactors, MDA}

// Rule describes the heading that opens a section.
type Rule struct {
	Label Label
	// Item is the item number as printed, e.g. "1A" or "2.02".
	Item string
	// Title is the first word(s) of the heading title, lower case.
	Title []string
}

// Config is the extractor's explicit configuration.
type Config struct {
	Rules map[filing.Type][]Rule
	// MinChars drops winning spans shorter than this after trimming.
	MinChars int
}

// DefaultConfig returns the item headings of 10-K, 10-Q and 8-K forms.
func DefaultConfig() Config {
	return Config{
		Rules: map[filing.Type][]Rule{
			filing.TypeAnnual: {
				{Label: Business, Item: "1", Title: []string{"business"}},
				{Label: RiskFactors, Item: "1A", Title: []string{"risk", "factors"}},
				{Label: MDA, Item: "7", Title: []string{"management"}},
			},
			filing.TypeQuarterly: {
				{Label: RiskFactors, Item: "1A", Title: []string{"risk", "factors"}},
				{Label: MDA, Item: "2", Title: []string{"management"}},
			},
			filing.TypeCurrent: {
				{Label: Business, Item: "8.01", Title: []string{"other", "events"}},
				{Label: MDA, Item: "2.02", Title: []string{"results", "of", "operations"}},
			},
		},
		MinChars: 1,
	}
}

// Section is one located span of the raw text. Start and End are byte
// offsets into the text passed to Extract.
type Section struct {
	Label Label  `json:"label"`
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Extractor finds sections. It is safe for concurrent use.
type Extractor struct {
	cfg      Config
	grammars map[parser.Format]*grammar
}

type grammar struct {
	boundary *regexp.Regexp
	markers  map[filing.Type][]compiledRule
}

type compiledRule struct {
	label Label
	re    *regexp.Regexp
}

// New compiles cfg's rules for each text format.
func New(cfg Config) *Extractor {
	if cfg.Rules == nil {
		cfg.Rules = DefaultConfig().Rules
	}
	e := &Extractor{cfg: cfg, grammars: make(map[parser.Format]*grammar)}
	for _, f := range []parser.Format{parser.FormatPDF, parser.FormatHTML, parser.FormatText} {
		e.grammars[f] = compile(cfg, separatorFor(f))
	}
	return e
}

// separatorFor returns the pattern between heading tokens. Text pulled
// out of PDFs often loses inter-word spaces, so PDF headings accept none.
func separatorFor(f parser.Format) string {
	if f == parser.FormatPDF {
		return `[ \t]*`
	}
	return `[ \t]+`
}

func compile(cfg Config, sep string) *grammar {
	g := &grammar{
		boundary: regexp.MustCompile(`(?m)^[ \t]*(?:` +
			`(?i:item)` + sep + `\d{1,2}[A-Ca-c]?(?:\.\d{2})?(?:[ \t]*[.:\-–—]|[ \t]*$|[ \t]+[A-Z])` +
			`|(?i:part)` + sep + `(?i:i{1,3}|iv)\b` +
			`|(?i:signatures?)[ \t]*$)`),
		markers: make(map[filing.Type][]compiledRule),
	}
	for ft, rules := range cfg.Rules {
		for _, r := range rules {
			g.markers[ft] = append(g.markers[ft], compiledRule{label: r.Label, re: heading(r, sep)})
		}
	}
	return g
}

// heading builds the marker for a rule. The item number and title may be
// split by punctuation and at most one line break.
func heading(r Rule, sep string) *regexp.Regexp {
	title := make([]string, len(r.Title))
	for i, w := range r.Title {
		title[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?im)^[ \t]*item` + sep + regexp.QuoteMeta(r.Item) + `\b` +
		`[ \t]*[.:\-–—]?[ \t]*(?:\r?\n[ \t]*)?` + strings.Join(title, sep))
}

// Extract returns the located sections of text in Labels order. Labels
// without a marker are absent. When a heading occurs more than once, as
// with a table of contents, the occurrence followed by the longest span
// wins.
func (e *Extractor) Extract(text string, ft filing.Type, hint parser.Format) []Section {
	g, ok := e.grammars[hint]
	if !ok {
		g = e.grammars[parser.FormatText]
	}

	bounds := boundaryStarts(g.boundary, text)

	found := make(map[Label]Section)
	for _, rule := range g.markers[ft] {
		best, ok := found[rule.label]
		for _, loc := range rule.re.FindAllStringIndex(text, -1) {
			start := lineStart(text, loc[0])
			end := nextBoundary(bounds, loc[1], len(text))
			if !ok || end-start > best.End-best.Start {
				best = Section{Label: rule.label, Start: start, End: end}
				ok = true
			}
		}
		if !ok {
			continue
		}
		best.Text = strings.TrimSpace(text[best.Start:best.End])
		if len(best.Text) < e.cfg.MinChars {
			continue
		}
		found[rule.label] = best
	}

	out := make([]Section, 0, len(found))
	for _, l := range Labels {
		if s, ok := found[l]; ok {
			out = append(out, s)
		}
	}
	return out
}

func boundaryStarts(re *regexp.Regexp, text string) []int {
	locs := re.FindAllStringIndex(text, -1)
	starts := make([]int, len(locs))
	for i, loc := range locs {
		starts[i] = loc[0]
	}
	return starts
}

// nextBoundary returns the first boundary at or after pos, or end.
func nextBoundary(bounds []int, pos, end int) int {
	i := sort.SearchInts(bounds, pos)
	if i < len(bounds) {
		return bounds[i]
	}
	return end
}

func lineStart(text string, pos int) int {
	return strings.LastIndexByte(text[:pos], '\n') + 1
}
