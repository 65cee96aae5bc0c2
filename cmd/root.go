package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/visage/internal/config"
	"github.com/andresmejia3/visage/internal/store"
	"github.com/andresmejia3/visage/internal/utils"
)

// Options holds the run command configuration.
type Options struct {
	InputPath   string
	Camera      int
	Threshold   float64
	Padding     int
	DisplaySize string
	WaitDelay   int
	LogPath     string
	Alias       string
	Interactive bool
	Headless    bool
	FramesDir   string
	Backend     string
	EngineCmd   string
}

var (
	// cfg is loaded once before any subcommand runs.
	cfg *config.Config
	// logger carries structured diagnostics to stderr.
	logger *slog.Logger
	// DB is opened lazily by the commands that need it.
	DB *store.Store
	// dbURL is the connection string flag.
	dbURL string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "visage",
	Short:   "Face detection with gender and age annotation",
	Version: Version,
	// Errors are reported through utils.ShowError.
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		if dbURL == "" {
			dbURL = cfg.DatabaseURL
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
		slog.SetDefault(logger)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
	},
}

func Execute() {
	// Cancelled on Ctrl+C (SIGINT) or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var shown reportedError
		if !errors.As(err, &shown) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// reportedError is an error already printed through utils.ShowError.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// fail prints the boxed error report and returns err for cobra's exit code.
func fail(context string, err error, s *utils.SafeCommand) error {
	utils.ShowError(context, err, s)
	return reportedError{fmt.Errorf("%s: %w", context, err)}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: DATABASE_URL or POSTGRES_* environment)")
}
