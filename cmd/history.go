package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/visage/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history [session]",
	Short: "List recorded sessions, or the rows of one session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			return fail("Failed to open database", err, nil)
		}

		if len(args) == 0 {
			sessions, err := db.ListSessions(ctx)
			if err != nil {
				return fail("Failed to list sessions", err, nil)
			}
			printSessions(os.Stdout, sessions)
			return nil
		}

		id, err := db.FindSession(ctx, args[0])
		if err != nil {
			return fail("Failed to find session", err, nil)
		}
		records, err := db.ListRecords(ctx, id)
		if err != nil {
			return fail("Failed to list records", err, nil)
		}
		printRecords(os.Stdout, records)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func printSessions(out io.Writer, sessions []store.SessionInfo) {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tALIAS\tFACES\tSTARTED")
	fmt.Fprintln(w, "--\t------\t-----\t-----\t-------")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.ID.String()[:8], s.Source, s.Alias, s.Faces, s.StartedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func printRecords(out io.Writer, records []store.Record) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No classifications recorded for this session.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tFRAME\tGENDER\tAGE\tBOX")
	fmt.Fprintln(w, "-\t-----\t------\t---\t---")
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t(%d,%d)-(%d,%d)\n", r.Seq, r.Frame, r.Gender, r.Age, r.Box.X1, r.Box.Y1, r.Box.X2, r.Box.Y2)
	}
	w.Flush()
}
