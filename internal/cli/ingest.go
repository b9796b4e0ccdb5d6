package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/filingest/internal/fetch"
	"github.com/dgallion1/filingest/internal/filing"
	"github.com/dgallion1/filingest/internal/pipeline"
	"github.com/dgallion1/filingest/internal/registry"
)

var ingestFlags struct {
	ticker    string
	company   string
	typ       string
	date      string
	cik       string
	accession string
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <locator>...",
	Short: "Ingest filings and wait for them to finish",
	Long: `ingest registers one document per locator and processes them with the
worker pool, then prints the outcome of each.

A locator is a local path, a file:// URL or an http(s) URL. With --cik and
--accession, each argument is instead a file name inside that EDGAR
filing, e.g.

  filingest ingest --ticker CAT --type 10-K --date 2024-02-16 \
    --cik 18230 --accession 0000018230-24-000009 cat-20231231.htm`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestFlags.ticker, "ticker", "", "company ticker (required)")
	f.StringVar(&ingestFlags.company, "company", "", "company id (default: from the companies map)")
	f.StringVar(&ingestFlags.typ, "type", "", "filing type: 10-K, 10-Q or 8-K (required)")
	f.StringVar(&ingestFlags.date, "date", "", "filing date, YYYY-MM-DD (required)")
	f.StringVar(&ingestFlags.cik, "cik", "", "EDGAR central index key")
	f.StringVar(&ingestFlags.accession, "accession", "", "EDGAR accession number")
	_ = ingestCmd.MarkFlagRequired("ticker")
	_ = ingestCmd.MarkFlagRequired("type")
	_ = ingestCmd.MarkFlagRequired("date")
	ingestCmd.MarkFlagsRequiredTogether("cik", "accession")

	rootCmd.AddCommand(ingestCmd)
}

// ingestLocators resolves command arguments to fetchable locators.
func ingestLocators(args []string, cik, accession string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		switch {
		case cik != "":
			out = append(out, fetch.EDGARURL(cik, accession, arg))
		case strings.Contains(arg, "://"):
			out = append(out, arg)
		default:
			abs, err := filepath.Abs(arg)
			if err != nil {
				return nil, err
			}
			out = append(out, "file://"+abs)
		}
	}
	return out, nil
}

func needsHTTP(locators []string) bool {
	for _, l := range locators {
		if fetch.IsRemote(l) {
			return true
		}
	}
	return false
}

func runIngest(cmd *cobra.Command, args []string) error {
	typ, err := filing.ParseType(ingestFlags.typ)
	if err != nil {
		return err
	}
	date, err := time.Parse(filing.DateLayout, ingestFlags.date)
	if err != nil {
		return fmt.Errorf("%w: --date must be YYYY-MM-DD", filing.ErrInvalidInput)
	}
	locators, err := ingestLocators(args, ingestFlags.cik, ingestFlags.accession)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(needsHTTP(locators))
	if err != nil {
		return err
	}
	log := newLogger(cfg, os.Stderr)
	a, err := newApp(cfg, log, false)
	if err != nil {
		return err
	}
	defer a.Close()

	company := ingestFlags.company
	if company == "" {
		company = cfg.CompanyFor(ingestFlags.ticker)
	}

	var (
		mu      sync.Mutex
		results = make(map[string]pipeline.Result)
	)
	a.orch.OnResult = func(res pipeline.Result) {
		mu.Lock()
		results[res.AttemptID] = res
		mu.Unlock()
	}

	ctx := cmd.Context()
	a.orch.Start(ctx)

	ids := make([]string, len(locators))
	var submitErr error
	for i, loc := range locators {
		doc, err := a.orch.Submit(ctx, registry.Request{
			CompanyID: company,
			Ticker:    ingestFlags.ticker,
			Type:      typ,
			Date:      date,
			Source:    loc,
		})
		if doc != nil {
			ids[i] = doc.ID
		}
		if err != nil {
			log.Error("submit failed", "source", loc, "error", err)
			submitErr = err
		}
	}
	a.orch.Drain()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tDOCUMENT\tOUTCOME\tCHUNKS\tERROR")
	failed := 0
	for i, loc := range locators {
		res, ok := results[ids[i]]
		if !ok {
			fmt.Fprintf(w, "%s\t%s\t%s\t-\t-\n", loc, orDash(ids[i]), "not processed")
			failed++
			continue
		}
		chunks := 0
		if doc, err := a.registry.Get(ctx, res.DocumentID); err == nil {
			chunks = doc.ChunkCount
		}
		msg := "-"
		if res.Err != nil {
			msg = res.Err.Error()
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", loc, res.DocumentID, res.Outcome(), chunks, msg)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d filings did not index", failed, len(locators))
	}
	return submitErr
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
