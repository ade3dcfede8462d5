package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/fetchkit/packages/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently recorded calls",
	Long: `List calls recorded to the history database by "send --history".

Examples:
  fetchkit history --db calls.db
  fetchkit history --db calls.db --limit 20`,
	RunE: historyCommand,
}

var (
	historyDBFlag      string
	historyLimitFlag   int
	historyNoColorFlag bool
)

func init() {
	historyCmd.Flags().StringVar(&historyDBFlag, "db", getEnvString("FETCHKIT_HISTORY", ""), "SQLite history file (env: FETCHKIT_HISTORY)")
	historyCmd.Flags().IntVar(&historyLimitFlag, "limit", 50, "Maximum number of calls to list")
	historyCmd.Flags().BoolVar(&historyNoColorFlag, "no-color", getEnvBool("FETCHKIT_NO_COLOR", false), "Disable colored output (env: FETCHKIT_NO_COLOR)")
}

func historyCommand(cmd *cobra.Command, args []string) error {
	if historyDBFlag == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error: --db is required (or set FETCHKIT_HISTORY)")
		os.Exit(ExitUsageError)
	}

	store, err := history.Open(historyDBFlag)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		os.Exit(ExitConfigError)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	records, err := store.List(ctx, historyLimitFlag)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		os.Exit(ExitConfigError)
	}

	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No recorded calls.")
		return nil
	}

	color.NoColor = historyNoColorFlag
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tMETHOD\tURL\tRESULT\tATTEMPTS\tDURATION")
	for _, rec := range records {
		result := formatResult(rec, green, red)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			rec.Method,
			rec.URL,
			result,
			rec.Attempts,
			rec.Duration.Round(time.Millisecond),
		)
	}
	return w.Flush()
}

func formatResult(rec history.Record, green, red func(a ...any) string) string {
	if rec.ErrorCode != "" {
		if rec.Status > 0 {
			return red(fmt.Sprintf("%s (%d)", rec.ErrorCode, rec.Status))
		}
		return red(rec.ErrorCode)
	}
	if rec.OK {
		return green(fmt.Sprintf("%d", rec.Status))
	}
	return red(fmt.Sprintf("%d", rec.Status))
}
