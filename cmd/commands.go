package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"drift_spider/internal/app"
	"drift_spider/internal/db"
	"drift_spider/internal/models"

	"github.com/spf13/cobra"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func formatScore(score *float64) string {
	if score == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *score)
}

// readInputs returns one input per non-blank line, ignoring # comments.
func readInputs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var inputs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		inputs = append(inputs, line)
	}
	return inputs, scanner.Err()
}

func (c *cli) ingestCmd() *cobra.Command {
	var (
		database string
		from     string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [inputs...]",
		Short: "Extract sections from URLs, PDFs, sitemaps or local files into a database",
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs := args
			if from != "" {
				more, err := readInputs(from)
				if err != nil {
					return err
				}
				inputs = append(inputs, more...)
			}
			if len(inputs) == 0 {
				return errors.New("no inputs given")
			}

			a, err := c.newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Ingest(cmd.Context(), database, inputs)
			if report == nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if jsonErr := printJSON(out, report); jsonErr != nil {
					return jsonErr
				}
				return err
			}
			for _, res := range report.Results {
				line := fmt.Sprintf("%-20s %-10s sections=%d added=%d", res.Outcome, res.Kind, res.Sections, res.Added)
				if res.Title != "" {
					line += fmt.Sprintf(" title=%q", res.Title)
				}
				if res.Score != nil {
					line += fmt.Sprintf(" coverage=%s (%s)", formatScore(res.Score), res.Status)
				}
				if res.Error != "" {
					line += " error=" + res.Error
				}
				fmt.Fprintf(out, "%s  %s\n", line, res.Input)
			}
			fmt.Fprintf(out, "\n%d new sections written to %s in %s\n", report.Added, report.Path, report.Took.Round(time.Millisecond))
			return err
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "Database to append to")
	cmd.Flags().StringVar(&from, "from", "", "File with one input per line")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func (c *cli) compareCmd() *cobra.Command {
	var (
		database string
		diff     bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "compare URL",
		Short: "Compare the live version of a URL with its stored snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.CompareURL(cmd.Context(), args[0], app.CompareOptions{Database: database, Diff: diff})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, res)
			}
			fmt.Fprintf(out, "URL:        %s\n", res.URL)
			fmt.Fprintf(out, "Outcome:    %s\n", res.Outcome)
			fmt.Fprintf(out, "Similarity: %s\n", formatScore(res.Score))
			fmt.Fprintf(out, "Status:     %s\n", res.Status)
			fmt.Fprintf(out, "Stored:     %d chars in %d sections\n", res.StoredLength, res.Sections)
			fmt.Fprintf(out, "Live:       %d chars in %d sections\n", res.LiveLength, res.LiveSections)
			if res.Error != "" {
				fmt.Fprintf(out, "Error:      %s\n", res.Error)
			}
			if diff && res.Outcome == models.OutcomeScraped {
				if res.Diff == "" {
					fmt.Fprintln(out, "\nno differences")
				} else {
					fmt.Fprintf(out, "\n%s", res.Diff)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "Database holding the stored snapshot")
	cmd.Flags().BoolVar(&diff, "diff", false, "Show a sentence diff of stored and live text")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func (c *cli) batchCmd() *cobra.Command {
	var (
		database string
		refresh  bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Compare every stored URL with its live version",
		Long: `batch streams the selected databases, fetches every distinct URL once and
scores it against its stored content. Completed databases are cached under
the cache directory and reused on the next run; an interrupted database is
recomputed from the start.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if refresh {
				names := []string{database}
				if database == "" || database == "all" {
					if names, err = a.Store().List(); err != nil {
						return err
					}
				}
				if err := a.ClearCache(names...); err != nil {
					return err
				}
			}

			errOut := cmd.ErrOrStderr()
			report, err := a.BatchCompare(cmd.Context(), app.BatchOptions{
				Database: database,
				Progress: func(name string, done, total int) {
					if total > 0 {
						fmt.Fprintf(errOut, "\r%s: %d/%d lines (%.0f%%)", name, done, total, 100*float64(done)/float64(total))
					}
					if done == total {
						fmt.Fprintln(errOut)
					}
				},
			})
			if report == nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if jsonErr := printJSON(out, report); jsonErr != nil {
					return jsonErr
				}
				return err
			}
			printBatch(out, report)
			return err
		},
	}

	cmd.Flags().StringVar(&database, "db", "all", "Database to compare, or all")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore and drop cached results first")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func printBatch(w io.Writer, report *app.BatchReport) {
	names := make([]string, 0, len(report.Results))
	for name := range report.Results {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entries := report.Results[name]
		urls := make([]string, 0, len(entries))
		for u := range entries {
			urls = append(urls, u)
		}
		sort.Strings(urls)

		counts := make(map[models.Status]int)
		fmt.Fprintf(w, "== %s (%d urls)\n", name, len(urls))
		for _, u := range urls {
			e := entries[u]
			counts[e.Status]++
			fmt.Fprintf(w, "%-8s %-18s %-20s %s\n", formatScore(e.Similarity), e.Status, e.Outcome, u)
		}
		for _, status := range []models.Status{models.StatusExcellent, models.StatusMinor, models.StatusPartial, models.StatusPoor, models.StatusNoData} {
			if counts[status] > 0 {
				fmt.Fprintf(w, "   %s: %d\n", status, counts[status])
			}
		}
	}

	if len(report.Cached) > 0 {
		fmt.Fprintf(w, "\nreused cache: %s\n", strings.Join(report.Cached, ", "))
	}
	if report.Cancelled {
		fmt.Fprintln(w, "\ncancelled: partial results were not cached")
	}
}

func (c *cli) translateCmd() *cobra.Command {
	var (
		opts   app.TranslateOptions
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Write a translated copy of a database",
		Long: `translate sends the heading and content of every record in --db to the
configured chat model and writes the result to --to-db. Records that fail
to translate are kept unchanged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.TranslateDatabase(cmd.Context(), opts)
			if report == nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if jsonErr := printJSON(out, report); jsonErr != nil {
					return jsonErr
				}
				return err
			}
			fmt.Fprintf(out, "%d records: %d translated, %d kept after errors, in %s\n",
				report.Records, report.Translated, report.Failed, report.Took.Round(time.Millisecond))
			if err == nil {
				fmt.Fprintf(out, "written to %s\n", report.Path)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&opts.Source, "db", "", "Database to translate")
	cmd.Flags().StringVar(&opts.Target, "to-db", "", "Database to write")
	cmd.Flags().StringVar(&opts.From, "from", "", "Source language code (default from config)")
	cmd.Flags().StringVar(&opts.To, "to", "", "Target language code (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("to-db")
	return cmd
}

func (c *cli) viewCmd() *cobra.Command {
	var (
		database string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "view URL",
		Short: "Show the stored sections of a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := c.store()

			var names []string
			if database != "" {
				if err := store.Require(database); err != nil {
					return err
				}
				names = []string{database}
			}
			records, err := store.LoadSections(args[0], names...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, records)
			}
			if len(records) == 0 {
				fmt.Fprintf(out, "no stored sections for %s\n", args[0])
				return nil
			}
			for _, rec := range records {
				fmt.Fprintf(out, "## %d. %s  (%s)\n%s\n", rec.Section.Section, rec.Heading, rec.LastUpdated, rec.Text())
				if len(rec.ExternalLinks) > 0 {
					fmt.Fprintf(out, "links: %s\n", strings.Join(rec.ExternalLinks, ", "))
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "Only look in this database")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func (c *cli) mirrorCmd() *cobra.Command {
	var database string

	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Push a JSONL database to the configured MongoDB",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.DB.Connection == "" {
				return errors.New("db.connection is not configured")
			}
			mongoDB, err := db.NewMongoDB(c.cfg.DB)
			if err != nil {
				return err
			}
			defer mongoDB.Close()

			n, err := mongoDB.MirrorDatabase(cmd.Context(), c.store(), database)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mirrored %d sections of %s\n", n, database)

			stats, err := mongoDB.GetDatabaseStats(cmd.Context(), database)
			if err != nil {
				return err
			}
			return printJSON(out, stats)
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "Database to mirror")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}
