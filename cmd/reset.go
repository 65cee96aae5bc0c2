package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	resetDB     bool
	resetLog    string
	resetFrames string
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored state (Database, CSV log, saved frames)",
	Long:  "Clears recorded data. With no flags it drops the database tables. Use --log and --frames-dir to delete files as well.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetDB && resetLog == "" && resetFrames == "" {
			resetDB = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if confirm(reader, os.Stdout, "⚠️  Are you sure you want to DROP all database tables?") {
				db, err := openStore(cmd.Context())
				if err != nil {
					return fail("Failed to open database", err, nil)
				}
				fmt.Println("🗑️  Clearing Database...")
				if err := db.Reset(cmd.Context()); err != nil {
					return fail("Failed to reset database", err, nil)
				}
			}
		}

		if resetLog != "" {
			if confirm(reader, os.Stdout, fmt.Sprintf("⚠️  Are you sure you want to delete %s?", resetLog)) {
				fmt.Println("🗑️  Clearing Session Log...")
				removeFile(resetLog)
			}
		}

		if resetFrames != "" {
			if confirm(reader, os.Stdout, fmt.Sprintf("⚠️  Are you sure you want to delete all frames in %s?", resetFrames)) {
				fmt.Println("🗑️  Clearing Saved Frames...")
				removeDir(resetFrames)
			}
		}

		fmt.Println("✨ Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "tables", false, "Drop the PostgreSQL tables")
	resetCmd.Flags().StringVar(&resetLog, "log", "", "Delete this CSV session log")
	resetCmd.Flags().StringVar(&resetFrames, "frames-dir", "", "Delete this directory of saved frames")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

// ask reads one line, falling back to def when the answer is blank.
func ask(r *bufio.Reader, w io.Writer, prompt, def string) string {
	if def != "" {
		fmt.Fprintf(w, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(w, "%s: ", prompt)
	}
	res, _ := r.ReadString('\n')
	if res = strings.TrimSpace(res); res == "" {
		return def
	}
	return res
}

// askRequired repeats the prompt until an answer is given. It fails when
// the input ends without one.
func askRequired(r *bufio.Reader, w io.Writer, prompt, def string) (string, error) {
	for {
		if def != "" {
			fmt.Fprintf(w, "%s [%s]: ", prompt, def)
		} else {
			fmt.Fprintf(w, "%s: ", prompt)
		}
		res, err := r.ReadString('\n')
		if res = strings.TrimSpace(res); res != "" {
			return res, nil
		}
		if def != "" {
			return def, nil
		}
		if err != nil {
			return "", fmt.Errorf("%s: no answer given", strings.ToLower(prompt))
		}
		fmt.Fprintln(w, "⚠️  An answer is required.")
	}
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
