// Package blob archives raw filing bytes and parsed payloads under
// content-addressed keys.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"

	"github.com/dgallion1/filingest/internal/identity"
)

// ErrNotFound is returned by Retrieve for an unknown locator.
var ErrNotFound = errors.New("blob not found")

const (
	rawPrefix    = "raw"
	parsedPrefix = "parsed"
)

// Store keeps blobs in an afero filesystem.
type Store struct {
	fs afero.Fs
}

// New returns a Store over fs.
func New(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// NewOS returns a Store rooted at dir on the local disk.
func NewOS(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// Store writes data under its fingerprint and returns the locator.
// Writing the same bytes twice is a no-op.
func (s *Store) Store(ctx context.Context, data []byte, ext string) (string, error) {
	return s.put(ctx, rawPrefix, data, ext)
}

// Retrieve returns the bytes stored at locator.
func (s *Store) Retrieve(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validLocator(locator) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, locator)
	}
	data, err := afero.ReadFile(s.fs, locator)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, locator)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", locator, err)
	}
	return data, nil
}

// StoreJSON gzips the JSON encoding of v and stores it.
func (s *Store) StoreJSON(ctx context.Context, v any) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(v); err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress payload: %w", err)
	}
	return s.put(ctx, parsedPrefix, buf.Bytes(), ".json.gz")
}

// RetrieveJSON reverses StoreJSON into v.
func (s *Store) RetrieveJSON(ctx context.Context, locator string, v any) error {
	data, err := s.Retrieve(ctx, locator)
	if err != nil {
		return err
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("open payload %s: %w", locator, err)
	}
	defer zr.Close()
	if err := json.NewDecoder(zr).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode payload %s: %w", locator, err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, prefix string, data []byte, ext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fp := identity.Fingerprint(data)
	locator := path.Join(prefix, fp[:2], fp+ext)

	if ok, err := afero.Exists(s.fs, locator); err == nil && ok {
		return locator, nil
	}
	if err := s.fs.MkdirAll(path.Dir(locator), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}

	// Each writer gets its own temp file and renames it into place, so a
	// reader never sees a partial blob and concurrent writers of the same
	// content cannot clobber each other.
	f, err := afero.TempFile(s.fs, path.Dir(locator), fp+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	tmp := f.Name()
	_, werr := f.Write(data)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = s.fs.Remove(tmp)
		return "", fmt.Errorf("write blob: %w", werr)
	}
	if err := s.fs.Rename(tmp, locator); err != nil {
		_ = s.fs.Remove(tmp)
		if ok, _ := afero.Exists(s.fs, locator); ok {
			return locator, nil
		}
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return locator, nil
}

func validLocator(l string) bool {
	if l == "" || strings.HasPrefix(l, "/") || strings.Contains(l, "..") {
		return false
	}
	return strings.HasPrefix(l, rawPrefix+"/") || strings.HasPrefix(l, parsedPrefix+"/")
}
