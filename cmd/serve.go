package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/visage/internal/config"
	"github.com/andresmejia3/visage/internal/face"
	"github.com/andresmejia3/visage/internal/pipeline"
	"github.com/andresmejia3/visage/internal/server"
	"github.com/andresmejia3/visage/internal/sessionlog"
	"github.com/andresmejia3/visage/internal/utils"
	"github.com/andresmejia3/visage/internal/vision"
)

var serveOpts struct {
	Port      string
	Backend   string
	EngineCmd string
	Threshold float64
	Padding   int
	LogPath   string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve single-image analysis over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		flags := cmd.Flags()
		if !flags.Changed("port") {
			serveOpts.Port = cfg.HTTPPort
		}
		if !flags.Changed("engine-cmd") {
			serveOpts.EngineCmd = cfg.EngineCmd
		}
		if !flags.Changed("threshold") {
			serveOpts.Threshold = cfg.Threshold
		}
		if !flags.Changed("padding") {
			serveOpts.Padding = cfg.Padding
		}

		if err := validateServeFlags(); err != nil {
			utils.Die("Invalid options", err, nil)
		}

		b, err := openEngines(serveOpts.Backend, serveOpts.EngineCmd, serveOpts.Threshold)
		if err != nil {
			b.Close()
			return fail("Model load failed", err, b.engineLogs())
		}
		defer b.Close()

		var sinks pipeline.Sinks
		if serveOpts.LogPath != "" {
			l, err := sessionlog.Open(serveOpts.LogPath, "")
			if err != nil {
				return fail("Failed to open session log", err, nil)
			}
			sinks = append(sinks, l)
		}
		if dbURL != "" {
			db, err := openStore(ctx)
			if err != nil {
				return fail("Failed to open database", err, nil)
			}
			sess, err := db.StartSession(ctx, "http:"+serveOpts.Port, "http", "")
			if err != nil {
				return fail("Failed to register session", err, nil)
			}
			sinks = append(sinks, sess)
		}
		var sink pipeline.Sink
		if len(sinks) > 0 {
			sink = sinks
		}

		p := pipeline.New(b.detector, b.classifier, nil, nil)
		p.Options.Padding = serveOpts.Padding
		if logger != nil {
			p.Logger = logger
		}

		srv := server.New(p, sink, p.Stats, logger)
		fmt.Printf("🌐 Listening on :%s\n", serveOpts.Port)
		if err := srv.Run(ctx, ":"+serveOpts.Port, strings.Split(cfg.CORSOrigins, ",")); err != nil {
			return fail("HTTP server failed", err, b.engineLogs())
		}
		return nil
	},
}

// validateServeFlags checks the analysis options the way run does.
func validateServeFlags() error {
	port, err := strconv.Atoi(serveOpts.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q", serveOpts.Port)
	}
	switch serveOpts.Backend {
	case backendOpenCV:
	case backendExec:
		if serveOpts.EngineCmd == "" {
			return fmt.Errorf("the exec backend needs --engine-cmd")
		}
	default:
		return fmt.Errorf("unknown backend %q (use opencv or exec)", serveOpts.Backend)
	}
	c := config.Config{Threshold: serveOpts.Threshold, Padding: serveOpts.Padding}
	return c.ValidateAnalysis()
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveOpts.Port, "port", "8080", "HTTP port")
	f.StringVar(&serveOpts.Backend, "backend", backendOpenCV, "Inference backend: opencv or exec")
	f.StringVar(&serveOpts.EngineCmd, "engine-cmd", "", "Engine command for the exec backend")
	f.Float64VarP(&serveOpts.Threshold, "threshold", "t", face.DefaultThreshold, "Minimum detection confidence (exclusive)")
	f.IntVarP(&serveOpts.Padding, "padding", "p", vision.DefaultPadding, "Pixels added around each face before classification")
	f.StringVarP(&serveOpts.LogPath, "log", "l", "", "Append one CSV row per classified face to this file")
	rootCmd.AddCommand(serveCmd)
}
