package chunker

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig = errors.New("invalid chunker config")
	// ErrInvariant signals a defect in windowing, not bad input.
	ErrInvariant = errors.New("chunk invariant violated")
)

// Config controls chunking behavior. Sizes are in words.
type Config struct {
	MaxWords     int
	OverlapWords int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWords:     1000,
		OverlapWords: 75,
	}
}

// Validate enforces 0 <= OverlapWords < MaxWords.
func (c Config) Validate() error {
	if c.MaxWords <= 0 {
		return fmt.Errorf("%w: max words must be positive, got %d", ErrInvalidConfig, c.MaxWords)
	}
	if c.OverlapWords < 0 || c.OverlapWords >= c.MaxWords {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidConfig, c.OverlapWords, c.MaxWords)
	}
	return nil
}

func (c Config) step() int { return c.MaxWords - c.OverlapWords }

// Piece is one window of a section. Offsets are rune positions into the
// section text, end exclusive.
type Piece struct {
	Index     int
	Section   string
	Text      string
	StartChar int
	EndChar   int
	WordCount int
}

// Chunker splits cleaned section text into overlapping word windows.
type Chunker struct {
	cfg Config
}

// New returns a Chunker for cfg.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

// Config returns the chunker's configuration.
func (c *Chunker) Config() Config { return c.cfg }

// Chunk windows text into pieces labelled with section. Text with no
// words yields no pieces; text of at most MaxWords words yields one.
func (c *Chunker) Chunk(text, section string) []Piece {
	ws := words(text)
	n := len(ws)
	if n == 0 {
		return nil
	}

	pieces := make([]Piece, 0, n/c.cfg.step()+1)
	for start := 0; ; start += c.cfg.step() {
		end := min(start+c.cfg.MaxWords, n)
		first, last := ws[start], ws[end-1]
		pieces = append(pieces, Piece{
			Index:     len(pieces),
			Section:   section,
			Text:      text[first.byteStart:last.byteEnd],
			StartChar: first.start,
			EndChar:   last.end,
			WordCount: end - start,
		})
		if end == n {
			break
		}
	}
	return pieces
}

// Verify checks pieces against text: dense indices, every word covered,
// non-decreasing offsets, each piece matching its offsets, and adjacent
// pieces sharing exactly OverlapWords words of identical text.
func Verify(text string, pieces []Piece, cfg Config) error {
	ws := words(text)
	if len(ws) == 0 {
		if len(pieces) != 0 {
			return fmt.Errorf("%w: %d pieces for empty text", ErrInvariant, len(pieces))
		}
		return nil
	}
	if len(pieces) == 0 {
		return fmt.Errorf("%w: no pieces for %d words", ErrInvariant, len(ws))
	}

	byStart := make(map[int]int, len(ws))
	byEnd := make(map[int]int, len(ws))
	for i, w := range ws {
		byStart[w.start] = i
		byEnd[w.end] = i
	}

	runes := []rune(text)
	prevFirst, prevLast := -1, -1
	for i, p := range pieces {
		if p.Index != i {
			return fmt.Errorf("%w: piece %d has index %d", ErrInvariant, i, p.Index)
		}
		if p.StartChar > p.EndChar || p.EndChar > len(runes) {
			return fmt.Errorf("%w: piece %d offsets [%d,%d) out of range", ErrInvariant, i, p.StartChar, p.EndChar)
		}
		if string(runes[p.StartChar:p.EndChar]) != p.Text {
			return fmt.Errorf("%w: piece %d text does not match its offsets", ErrInvariant, i)
		}
		first, okStart := byStart[p.StartChar]
		last, okEnd := byEnd[p.EndChar]
		if !okStart || !okEnd {
			return fmt.Errorf("%w: piece %d does not align to word boundaries", ErrInvariant, i)
		}
		if n := last - first + 1; n != p.WordCount || n > cfg.MaxWords {
			return fmt.Errorf("%w: piece %d has %d words (recorded %d, max %d)", ErrInvariant, i, n, p.WordCount, cfg.MaxWords)
		}

		if i == 0 {
			if first != 0 {
				return fmt.Errorf("%w: first piece starts at word %d", ErrInvariant, first)
			}
		} else {
			if first < prevFirst || last < prevLast {
				return fmt.Errorf("%w: piece %d offsets go backwards", ErrInvariant, i)
			}
			if first > prevLast+1 {
				return fmt.Errorf("%w: gap between piece %d and %d", ErrInvariant, i-1, i)
			}
			if shared := prevLast - first + 1; shared != cfg.OverlapWords {
				return fmt.Errorf("%w: pieces %d and %d share %d words, want %d", ErrInvariant, i-1, i, shared, cfg.OverlapWords)
			}
			if cfg.OverlapWords > 0 && trailingWords(pieces[i-1].Text, cfg.OverlapWords) != leadingWords(p.Text, cfg.OverlapWords) {
				return fmt.Errorf("%w: overlap between piece %d and %d differs", ErrInvariant, i-1, i)
			}
		}
		prevFirst, prevLast = first, last
	}
	if prevLast != len(ws)-1 {
		return fmt.Errorf("%w: last piece ends at word %d of %d", ErrInvariant, prevLast, len(ws))
	}
	return nil
}

func leadingWords(text string, k int) string {
	ws := words(text)
	if len(ws) == 0 || k <= 0 {
		return ""
	}
	k = min(k, len(ws))
	return text[ws[0].byteStart:ws[k-1].byteEnd]
}

func trailingWords(text string, k int) string {
	ws := words(text)
	if len(ws) == 0 || k <= 0 {
		return ""
	}
	k = min(k, len(ws))
	return text[ws[len(ws)-k].byteStart:ws[len(ws)-1].byteEnd]
}
