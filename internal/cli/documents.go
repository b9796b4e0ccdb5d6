package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/filingest/internal/filing"
)

var docsFlags struct {
	json     bool
	status   string
	typ      string
	ticker   string
	company  string
	from, to string
	limit    int
}

var documentsCmd = &cobra.Command{
	Use:     "documents",
	Aliases: []string{"docs"},
	Short:   "Inspect and manage ingested documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	Args:  cobra.NoArgs,
	RunE:  runDocsList,
}

var docsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsShow,
}

var docsChunksCmd = &cobra.Command{
	Use:   "chunks <id>",
	Short: "Print a document's chunks in order",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsChunks,
}

var docsReprocessCmd = &cobra.Command{
	Use:   "reprocess <id>",
	Short: "Reset a document and run it through the pipeline again",
	Long: `reprocess clears a document's derived state and processes it again in
the foreground. Archived bytes are reused, so nothing is refetched.`,
	Args: cobra.ExactArgs(1),
	RunE: runDocsReprocess,
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsDelete,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show document counts by status",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	documentsCmd.PersistentFlags().BoolVar(&docsFlags.json, "json", false, "print JSON")

	f := docsListCmd.Flags()
	f.StringVar(&docsFlags.status, "status", "", "filter by status")
	f.StringVar(&docsFlags.typ, "type", "", "filter by filing type")
	f.StringVar(&docsFlags.ticker, "ticker", "", "filter by ticker")
	f.StringVar(&docsFlags.company, "company", "", "filter by company id")
	f.StringVar(&docsFlags.from, "from", "", "earliest filing date, YYYY-MM-DD")
	f.StringVar(&docsFlags.to, "to", "", "latest filing date, YYYY-MM-DD")
	f.IntVar(&docsFlags.limit, "limit", 100, "maximum documents to list")

	documentsCmd.AddCommand(docsListCmd, docsShowCmd, docsChunksCmd, docsReprocessCmd, docsDeleteCmd)
	rootCmd.AddCommand(documentsCmd, statsCmd)
}

// openApp loads configuration and wires the app with logs on stderr.
func openApp() (*app, error) {
	cfg, err := loadConfig(false)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, newLogger(cfg, os.Stderr), false)
}

func listFilter() (filing.Filter, error) {
	f := filing.Filter{
		CompanyID: docsFlags.company,
		Ticker:    docsFlags.ticker,
		Limit:     docsFlags.limit,
	}
	var err error
	if docsFlags.status != "" {
		if f.Status, err = filing.ParseStatus(docsFlags.status); err != nil {
			return f, err
		}
	}
	if docsFlags.typ != "" {
		if f.Type, err = filing.ParseType(docsFlags.typ); err != nil {
			return f, err
		}
	}
	if docsFlags.from != "" {
		if f.From, err = time.Parse(filing.DateLayout, docsFlags.from); err != nil {
			return f, fmt.Errorf("%w: --from must be YYYY-MM-DD", filing.ErrInvalidInput)
		}
	}
	if docsFlags.to != "" {
		if f.To, err = time.Parse(filing.DateLayout, docsFlags.to); err != nil {
			return f, fmt.Errorf("%w: --to must be YYYY-MM-DD", filing.ErrInvalidInput)
		}
	}
	return f, nil
}

func runDocsList(cmd *cobra.Command, args []string) error {
	f, err := listFilter()
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.registry.List(cmd.Context(), f)
	if err != nil {
		return err
	}
	if docsFlags.json {
		return printJSON(cmd.OutOrStdout(), docs)
	}
	return printDocuments(cmd.OutOrStdout(), docs)
}

func printDocuments(out io.Writer, docs []filing.Document) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTICKER\tTYPE\tDATE\tSTATUS\tWORDS\tCHUNKS")
	for _, d := range docs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			d.ID, d.Ticker, d.Type, d.Date.Format(filing.DateLayout), d.Status, d.WordCount, d.ChunkCount)
	}
	return w.Flush()
}

func runDocsShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.registry.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), doc)
}

func runDocsChunks(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	chunks, err := a.registry.Chunks(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if docsFlags.json {
		return printJSON(cmd.OutOrStdout(), chunks)
	}
	out := cmd.OutOrStdout()
	for _, c := range chunks {
		fmt.Fprintf(out, "--- #%d %s [%d:%d] %d words\n%s\n\n",
			c.Index, c.Section, c.StartChar, c.EndChar, c.WordCount, c.Text)
	}
	return nil
}

func runDocsReprocess(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if _, err := a.registry.Reset(ctx, args[0]); err != nil {
		return err
	}
	res := a.worker.Process(ctx, args[0])
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", res.DocumentID, res.Outcome())
	return res.Err
}

func runDocsDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.registry.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	counts, err := a.registry.Counts(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tDOCUMENTS")
	total := 0
	for _, st := range filing.Statuses {
		fmt.Fprintf(w, "%s\t%d\n", st, counts[st])
		total += counts[st]
	}
	fmt.Fprintf(w, "total\t%d\n", total)
	return w.Flush()
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
