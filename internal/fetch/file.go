package fetch

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// File reads filings from a filesystem. Locators are plain paths or
// file:// URLs. When root is set, reads are confined to it.
type File struct {
	fs       afero.Fs
	maxBytes int64
	root     string
}

var _ Fetcher = (*File)(nil)

// NewFile returns a fetcher over fs. A zero maxBytes uses the HTTP default.
func NewFile(fs afero.Fs, maxBytes int64) *File {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &File{fs: fs, maxBytes: maxBytes}
}

// Within confines f to paths under root and returns f.
func (f *File) Within(root string) *File {
	f.root = root
	return f
}

// LocalPath returns the cleaned path a file locator names. A relative path
// is taken relative to root. With a non-empty root, the path must lie
// inside it.
func LocalPath(root, locator string) (string, error) {
	if s := scheme(locator); s != "" && s != "file" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, locator)
	}
	p := strings.TrimPrefix(locator, "file://")
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideRoot)
	}
	if root == "" {
		return filepath.Clean(p), nil
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	return p, nil
}

func (f *File) Fetch(ctx context.Context, locator string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := LocalPath(f.root, locator)
	if err != nil {
		return nil, err
	}

	info, err := f.fs.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("fetch %s: is a directory", p)
	}
	if info.Size() > f.maxBytes {
		return nil, fmt.Errorf("fetch %s: file exceeds %d bytes", p, f.maxBytes)
	}

	data, err := afero.ReadFile(f.fs, p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	ct := mime.TypeByExtension(filepath.Ext(p))
	format, err := detect(data, ct, filepath.Base(p))
	if err != nil {
		return nil, err
	}
	return &Result{Data: data, Format: format, ContentType: ct, URL: "file://" + p}, nil
}
