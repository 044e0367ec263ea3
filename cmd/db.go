package main

import (
	"errors"
	"fmt"

	"drift_spider/internal/db"

	"github.com/spf13/cobra"
)

func (c *cli) dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect and maintain JSONL databases",
	}
	cmd.AddCommand(c.dbListCmd(), c.dbURLsCmd(), c.dbValidateCmd(), c.dbRepairCmd(), c.dbDeleteCmd(), c.dbStatsCmd())
	return cmd
}

func (c *cli) store() *db.Store {
	return db.NewStore(c.cfg.Storage.DatabaseDir)
}

func (c *cli) dbListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List databases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := c.store()
			names, err := store.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintf(out, "no databases in %s\n", store.Dir())
				return nil
			}
			for _, name := range names {
				lines, err := db.CountLines(store.Path(name))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%-30s %d lines\n", name, lines)
			}
			return nil
		},
	}
}

func (c *cli) dbURLsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "urls",
		Short: "List every stored origin link across all databases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			urls, err := c.store().AllURLs()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, urls)
			}
			for _, u := range urls {
				fmt.Fprintln(out, u)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print URLs as JSON")
	return cmd
}

func (c *cli) dbValidateCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "validate NAME",
		Short: "Report lines that are not valid records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := c.store()
			if err := store.Require(args[0]); err != nil {
				return err
			}
			res, err := store.ReadAll(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, res.Errors)
			}
			fmt.Fprintf(out, "%s: %d lines, %d valid records, %d errors\n", args[0], res.Lines, len(res.Records), len(res.Errors))
			for _, e := range res.Errors {
				fmt.Fprintf(out, "line %d (char %d) %s: %s\n    %s\n", e.Line, e.Offset, e.ErrorType, e.Message, e.Preview)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print errors as JSON")
	return cmd
}

func (c *cli) dbRepairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair NAME",
		Short: "Write a copy of a database with only its valid records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := c.store()
			if err := store.Require(args[0]); err != nil {
				return err
			}
			res, err := store.ReadAll(args[0])
			if err != nil {
				return err
			}

			out, err := db.Repair(store.Path(args[0]), res.Records)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "kept %d records, dropped %d lines: %s\n", len(res.Records), len(res.Errors), out)
			return nil
		},
	}
}

func (c *cli) dbDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete NAME...",
		Short: "Delete whole databases",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete without --yes")
			}
			if err := c.store().Delete(args...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d databases\n", len(args))
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}

func (c *cli) dbStatsCmd() *cobra.Command {
	var (
		previewLines int
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "stats NAME",
		Short: "Show size, record counts and the first lines of a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.store().Stats(args[0], previewLines)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, st)
			}
			fmt.Fprintf(out, "Database: %s\nPath:     %s\nSize:     %d bytes\n", st.Name, st.Path, st.SizeBytes)
			fmt.Fprintf(out, "Lines:    %d (%d records, %d errors)\nURLs:     %d\n", st.Lines, st.Records, st.Errors, st.URLs)
			for i, line := range st.Preview {
				fmt.Fprintf(out, "%3d  %s\n", i+1, line)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&previewLines, "lines", "n", 5, "Number of lines to preview")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print stats as JSON")
	return cmd
}
