package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestLocators(t *testing.T) {
	abs, err := filepath.Abs("cat.htm")
	require.NoError(t, err)

	tests := []struct {
		name     string
		args     []string
		cik, acc string
		want     []string
		wantHTTP bool
	}{
		{
			name: "local path becomes file url",
			args: []string{"cat.htm"},
			want: []string{"file://" + abs},
		},
		{
			name:     "urls pass through",
			args:     []string{"https://example.test/a.htm", "file:///tmp/b.pdf"},
			want:     []string{"https://example.test/a.htm", "file:///tmp/b.pdf"},
			wantHTTP: true,
		},
		{
			name:     "edgar accession",
			args:     []string{"cat-20231231.htm"},
			cik:      "0000018230",
			acc:      "0000018230-24-000009",
			want:     []string{"https://www.sec.gov/Archives/edgar/data/18230/000001823024000009/cat-20231231.htm"},
			wantHTTP: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ingestLocators(tt.args, tt.cik, tt.acc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantHTTP, needsHTTP(got))
		})
	}
}

func filingText(words int) string {
	var b strings.Builder
	b.WriteString("CATERPILLAR INC.\nANNUAL REPORT ON FORM 10-K\n\nPART I\n\nItem 1A. Risk Factors\n\n")
	for i := 0; i < words; i++ {
		if i > 0 && i%12 == 0 {
			b.WriteString(". ")
		} else if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "exposure%d", i%89)
	}
	b.WriteString(".\n\nSIGNATURES\n\nPursuant to the requirements.\n")
	return b.String()
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "filingest dev\n", out)
}

func TestIngestThenInspect(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FILINGEST_DATABASE_PATH", filepath.Join(dir, "filingest.db"))
	t.Setenv("FILINGEST_BLOB_DIR", filepath.Join(dir, "blobs"))
	t.Setenv("FILINGEST_LOG_LEVEL", "error")

	src := filepath.Join(dir, "cat-10k.txt")
	require.NoError(t, os.WriteFile(src, []byte(filingText(3000)), 0o644))

	out, err := execute(t, "ingest", "--ticker", "CAT", "--type", "10-K", "--date", "2024-02-16", src)
	require.NoError(t, err, out)
	assert.Contains(t, out, "indexed")

	out, err = execute(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "indexed")
	assert.Contains(t, out, "total")

	// Same bytes under a second path resolve to the first document.
	dup := filepath.Join(dir, "copy.txt")
	require.NoError(t, os.WriteFile(dup, []byte(filingText(3000)), 0o644))
	out, err = execute(t, "ingest", "--ticker", "CAT", "--type", "10-K", "--date", "2024-02-16", dup)
	require.NoError(t, err, out)
	assert.Contains(t, out, "duplicate")

	out, err = execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "database_path: "+filepath.Join(dir, "filingest.db"))
}
