package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dhcgn/invoice-ingest/attachment"
	"github.com/dhcgn/invoice-ingest/filter"
	"github.com/dhcgn/invoice-ingest/mbox"
	"github.com/dhcgn/invoice-ingest/model"
	"github.com/dhcgn/invoice-ingest/stats"
)

type classifyOptions struct {
	reportDir string
	topN      int
	filter    filter.Options
}

// tally counts messages per category for the classify report.
type tally struct {
	scanned  int
	filtered int
	counter  map[string]map[string]int
}

var reportCategories = []string{"strategy", "from", "subject"}

func newTally() *tally {
	t := &tally{counter: make(map[string]map[string]int)}
	for _, c := range reportCategories {
		t.counter[c] = make(map[string]int)
	}
	return t
}

func (t *tally) add(msg model.Message) {
	plan := attachment.Classify(msg.Parts)
	t.counter["strategy"][plan.Strategy.String()]++
	if plan.Strategy == attachment.StrategySkip {
		return
	}
	if msg.From != "" {
		t.counter["from"][msg.From]++
	}
	if msg.Subject != "" {
		t.counter["subject"][msg.Subject]++
	}
}

func newClassifyCmd() *cobra.Command {
	var opts classifyOptions

	cmd := &cobra.Command{
		Use:   "classify [mbox file]",
		Short: "Show how each message of an mbox export would be retrieved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.reportDir, "output", "o", "", "Directory for CSV reports (none when empty)")
	cmd.Flags().IntVarP(&opts.topN, "top", "t", 10, "Number of top items to display")
	cmd.Flags().StringArrayVar(&opts.filter.IncludeFrom, "include-from", nil, "Regex allow-list applied to the sender address")
	cmd.Flags().StringArrayVar(&opts.filter.IncludeSubject, "include-subject", nil, "Regex allow-list applied to the subject")
	cmd.Flags().StringArrayVar(&opts.filter.ExcludeFrom, "exclude-from", nil, "Regex block-list applied to the sender address")
	cmd.Flags().StringArrayVar(&opts.filter.ExcludeSubject, "exclude-subject", nil, "Regex block-list applied to the subject")
	return cmd
}

func runClassify(w io.Writer, path string, opts classifyOptions) error {
	f, err := filter.New(opts.filter)
	if err != nil {
		return fmt.Errorf("create filter: %w", err)
	}

	t := newTally()
	err = mbox.Read(path, func(e mbox.Entry) error {
		t.scanned++
		if !f.Allows(e.Message) {
			t.filtered++
			return nil
		}
		t.add(e.Message)
		return nil
	})
	if err != nil {
		return fmt.Errorf("error reading mbox file: %w", err)
	}

	printTally(w, t, opts.topN)

	if opts.reportDir == "" {
		return nil
	}
	if err := saveCSVReports(t.counter, opts.reportDir, 1000); err != nil {
		return fmt.Errorf("error saving CSV reports: %w", err)
	}
	fmt.Fprintf(w, "\nReports saved to directory: %s\n", opts.reportDir)
	return nil
}

func printTally(w io.Writer, t *tally, topN int) {
	fmt.Fprintf(w, "Scanned %d messages (%d filtered)\n\n", t.scanned, t.filtered)

	fmt.Fprintln(w, "Strategies:")
	for _, s := range []attachment.Strategy{attachment.StrategyDirect, attachment.StrategyBundle, attachment.StrategySkip} {
		fmt.Fprintf(w, "  %s: %d\n", s, t.counter["strategy"][s.String()])
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Top %d senders:\n", topN)
	stats.PrettyPrintTop(w, t.counter["from"], topN)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Top %d subjects:\n", topN)
	stats.PrettyPrintTop(w, t.counter["subject"], topN)
}

func saveCSVReports(counter map[string]map[string]int, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, category := range reportCategories {
		if err := writeCSVReport(filepath.Join(dir, "report_"+category+".csv"), counter[category], limit); err != nil {
			return err
		}
	}
	return nil
}

func writeCSVReport(path string, counts map[string]int, limit int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	type pair struct {
		Key   string
		Value int
	}
	pairs := make([]pair, 0, len(counts))
	for k, v := range counts {
		pairs = append(pairs, pair{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value == pairs[j].Value {
			return pairs[i].Key < pairs[j].Key
		}
		return pairs[i].Value > pairs[j].Value
	})

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for i := 0; i < limit && i < len(pairs); i++ {
		if err := writer.Write([]string{pairs[i].Key, strconv.Itoa(pairs[i].Value)}); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}
