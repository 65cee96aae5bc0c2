package cmd

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/visage/internal/config"
	"github.com/andresmejia3/visage/internal/face"
	"github.com/andresmejia3/visage/internal/pipeline"
	"github.com/andresmejia3/visage/internal/sessionlog"
	"github.com/andresmejia3/visage/internal/utils"
	"github.com/andresmejia3/visage/internal/vision"
)

var runOpts Options

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Detect faces and annotate gender and age frame by frame",
	Long: `Streams a video, still image or camera through face detection and
gender/age classification, showing each annotated frame until 'q' is pressed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		applyConfigDefaults(cmd, &runOpts)
		if err := validateRunFlags(&runOpts); err != nil {
			// Nothing is open yet.
			utils.Die("Invalid options", err, nil)
		}
		return runSession(cmd, &runOpts)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runOpts.InputPath, "input", "i", "", "Path to a video or image (default: camera)")
	f.IntVarP(&runOpts.Camera, "camera", "c", 0, "Camera index used when no input is given")
	f.Float64VarP(&runOpts.Threshold, "threshold", "t", face.DefaultThreshold, "Minimum detection confidence (exclusive)")
	f.IntVarP(&runOpts.Padding, "padding", "p", vision.DefaultPadding, "Pixels added around each face before classification")
	f.StringVar(&runOpts.DisplaySize, "display-size", "1000x900", "Preview size as WIDTHxHEIGHT")
	f.IntVarP(&runOpts.WaitDelay, "wait", "w", 0, "Milliseconds to wait for a key per frame (0 = wait forever)")
	f.StringVarP(&runOpts.LogPath, "log", "l", "", "Append one CSV row per classified face to this file")
	f.StringVarP(&runOpts.Alias, "alias", "a", "", "Alias written in the first CSV column")
	f.BoolVarP(&runOpts.Interactive, "interactive", "I", false, "Ask whether and where to log before streaming")
	f.BoolVar(&runOpts.Headless, "headless", false, "Run without a window and show a progress bar")
	f.StringVar(&runOpts.FramesDir, "frames-dir", "", "Save annotated frames here as JPEG (headless only)")
	f.StringVar(&runOpts.Backend, "backend", backendOpenCV, "Inference backend: opencv or exec")
	f.StringVar(&runOpts.EngineCmd, "engine-cmd", "", "Engine command for the exec backend")

	rootCmd.AddCommand(runCmd)
}

// applyConfigDefaults fills flags left unset from the environment config.
func applyConfigDefaults(cmd *cobra.Command, opts *Options) {
	if cfg == nil {
		return
	}
	flags := cmd.Flags()
	if !flags.Changed("threshold") {
		opts.Threshold = cfg.Threshold
	}
	if !flags.Changed("padding") {
		opts.Padding = cfg.Padding
	}
	if !flags.Changed("display-size") {
		opts.DisplaySize = fmt.Sprintf("%dx%d", cfg.DisplayWidth, cfg.DisplayHeight)
	}
	if !flags.Changed("engine-cmd") {
		opts.EngineCmd = cfg.EngineCmd
	}
}

// validateRunFlags checks options before any engine or source is opened.
func validateRunFlags(opts *Options) error {
	if opts.InputPath != "" {
		info, err := os.Stat(opts.InputPath)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("input file does not exist: %w", err)
			}
			return fmt.Errorf("unable to access input file: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("input path %s is a directory, expected a video or image file", opts.InputPath)
		}
	}
	if opts.Camera < 0 {
		return fmt.Errorf("camera index must be >= 0, got %d", opts.Camera)
	}
	if opts.WaitDelay < 0 {
		return fmt.Errorf("wait must be >= 0, got %d", opts.WaitDelay)
	}
	switch opts.Backend {
	case backendOpenCV:
	case backendExec:
		if opts.EngineCmd == "" {
			return fmt.Errorf("the exec backend needs --engine-cmd")
		}
	default:
		return fmt.Errorf("unknown backend %q (use opencv or exec)", opts.Backend)
	}
	if opts.FramesDir != "" && !opts.Headless {
		return fmt.Errorf("--frames-dir requires --headless")
	}

	c := config.Config{Threshold: opts.Threshold, Padding: opts.Padding}
	if err := c.SetDisplaySize(opts.DisplaySize); err != nil {
		return err
	}
	return c.Validate()
}

func displaySize(opts *Options) image.Point {
	c := config.Config{}
	_ = c.SetDisplaySize(opts.DisplaySize)
	return c.DisplaySize()
}

// promptSession asks whether to log, and where, like the console session.
// Once logging is chosen a file name is required.
func promptSession(r *bufio.Reader, w io.Writer, opts *Options) error {
	if !confirm(r, w, "💾 Do you want to save results to a CSV file?") {
		opts.LogPath = ""
		return nil
	}
	path, err := askRequired(r, w, "Enter the CSV file name", opts.LogPath)
	if err != nil {
		return err
	}
	opts.LogPath = path
	opts.Alias = ask(r, w, "Enter an alias for the image (optional)", opts.Alias)
	return nil
}

func runSession(cmd *cobra.Command, opts *Options) error {
	ctx := cmd.Context()

	b, err := openBackend(opts)
	if err != nil {
		if b != nil {
			b.Close()
		}
		return fail("Failed to start session", err, b.engineLogs())
	}
	defer b.Close()

	if opts.Interactive {
		if err := promptSession(bufio.NewReader(os.Stdin), os.Stdout, opts); err != nil {
			return fail("Failed to configure session log", err, nil)
		}
	}

	var sinks pipeline.Sinks
	if opts.LogPath != "" {
		l, err := sessionlog.Open(opts.LogPath, opts.Alias)
		if err != nil {
			return fail("Failed to open session log", err, nil)
		}
		sinks = append(sinks, l)
		fmt.Fprintf(os.Stderr, "📝 Logging to %s\n", l.Path())
	}
	if dbURL != "" {
		db, err := openStore(ctx)
		if err != nil {
			return fail("Failed to open database", err, nil)
		}
		sourceID, err := utils.SourceID(opts.InputPath, opts.Camera)
		if err != nil {
			return fail("Failed to identify source", err, nil)
		}
		source := opts.InputPath
		if source == "" {
			source = fmt.Sprintf("camera:%d", opts.Camera)
		}
		sess, err := db.StartSession(ctx, source, sourceID, opts.Alias)
		if err != nil {
			return fail("Failed to register session", err, nil)
		}
		sinks = append(sinks, sess)
		fmt.Fprintf(os.Stderr, "🗄️  Recording session %s\n", sess.ID().String()[:8])
	}

	p := pipeline.New(b.detector, b.classifier, b.renderer, b.display)
	p.Options = pipeline.Options{
		Padding:     opts.Padding,
		DisplaySize: displaySize(opts),
		WaitDelay:   opts.WaitDelay,
		QuitKey:     'q',
		Alias:       opts.Alias,
	}
	if logger != nil {
		p.Logger = logger
	}
	p.Out = os.Stdout
	switch len(sinks) {
	case 0:
	case 1:
		p.Sink = sinks[0]
	default:
		p.Sink = sinks
	}

	if opts.Headless {
		total := b.frames
		if total <= 0 {
			// Spinner when the frame count is unknown.
			total = -1
		}
		bar := progressbar.NewOptions(total,
			progressbar.OptionSetDescription("🔍 Visage Analyzing"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
		p.OnFrame = func(int) { bar.Add(1) }
		defer bar.Finish()
	} else {
		fmt.Fprintln(os.Stderr, "▶️  Press any key for the next frame, 'q' to quit.")
	}

	b.handedOff = true
	err = p.Run(ctx, b.source)
	p.Stats.WriteSummary(os.Stderr)
	if err != nil {
		return fail("Session failed", err, b.engineLogs())
	}
	return nil
}
