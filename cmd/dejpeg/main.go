package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/dudu/dejpeg/internal/cancel"
	"github.com/dudu/dejpeg/internal/imageio"
	"github.com/dudu/dejpeg/internal/inference"
	"github.com/dudu/dejpeg/internal/pipeline"
	"github.com/dudu/dejpeg/internal/progress"
)

type Config struct {
	ModelPath string
	Output    string
	Format    string
	Strength  float64
	Quality   int
	Decoder   string

	TileMax      int
	Overlap      int
	Channels     int
	Workers      int
	MemoryMiB    int64
	ScratchDir   string
	PadMultiple  int
	IntraThreads int
	InterThreads int
	OptLevel     string
	ORTLibrary   string

	Verbose bool
	Quiet   bool
	Inputs  []string
}

func main() {
	config := parseFlags()

	if config.ModelPath == "" || len(config.Inputs) == 0 {
		fmt.Fprintln(os.Stderr, "Error: --model and at least one input image are required")
		flag.Usage()
		os.Exit(2)
	}
	if config.Output != "" && len(config.Inputs) > 1 {
		fmt.Fprintln(os.Stderr, "Error: --output can only be used with a single input")
		os.Exit(2)
	}

	if err := run(config); err != nil {
		if errors.Is(err, pipeline.ErrCancelled) {
			fmt.Fprintln(os.Stderr, "\nCancelled")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() Config {
	config := Config{}
	defaults := pipeline.DefaultConfig()

	flag.StringVar(&config.ModelPath, "model", "", "ONNX model file (required)")
	flag.StringVar(&config.ModelPath, "m", "", "ONNX model file (shorthand)")
	flag.StringVar(&config.Output, "output", "", "Output file (single input only)")
	flag.StringVar(&config.Output, "o", "", "Output file (shorthand)")
	flag.StringVar(&config.Format, "format", "png", "Output format when --output is not set: png, jpg or webp")
	flag.Float64Var(&config.Strength, "strength", 50, "Restoration strength 0-100 for models with a quality input")
	flag.Float64Var(&config.Strength, "s", 50, "Restoration strength (shorthand)")
	flag.IntVar(&config.Quality, "quality", imageio.DefaultQuality, "JPEG/WebP output quality")
	flag.StringVar(&config.Decoder, "decoder", "auto", "Image decoder: auto, opencv or go")

	flag.IntVar(&config.TileMax, "tile", 0, "Tile size override (0 uses the model default)")
	flag.IntVar(&config.TileMax, "t", 0, "Tile size override (shorthand)")
	flag.IntVar(&config.Overlap, "overlap", 0, "Tile overlap override (0 uses the model default)")
	flag.IntVar(&config.Channels, "channels", 0, "Input channels for models with a dynamic channel axis (1 or 3)")
	flag.IntVar(&config.Workers, "workers", defaults.Workers, "Tiles prepared concurrently")
	flag.IntVar(&config.Workers, "w", defaults.Workers, "Tiles prepared concurrently (shorthand)")
	flag.Int64Var(&config.MemoryMiB, "memory", defaults.MemoryBudget>>20, "Largest image in MiB of RGBA kept in memory")
	flag.StringVar(&config.ScratchDir, "scratch", "", "Directory for spilled tiles (default system temp)")
	flag.IntVar(&config.PadMultiple, "pad", defaults.PadMultiple, "Pad tile sides to a multiple of this (1 disables)")

	flag.IntVar(&config.IntraThreads, "threads", 0, "Intra-op threads (0 uses the model policy)")
	flag.IntVar(&config.InterThreads, "inter-threads", 0, "Inter-op threads (0 uses the model policy)")
	flag.StringVar(&config.OptLevel, "opt", "", "Graph optimization: none, basic, extended or all")
	flag.StringVar(&config.ORTLibrary, "ort-lib", "", "ONNX Runtime shared library (default $"+inference.LibraryEnv+")")

	flag.BoolVar(&config.Verbose, "verbose", false, "Debug logging")
	flag.BoolVar(&config.Verbose, "v", false, "Debug logging (shorthand)")
	flag.BoolVar(&config.Quiet, "quiet", false, "No progress output")
	flag.BoolVar(&config.Quiet, "q", false, "No progress output (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "dejpeg - Remove JPEG compression artifacts with ONNX models\n\n")
		fmt.Fprintf(os.Stderr, "Usage: dejpeg [options] image...\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  dejpeg -m models/fbcnn_color.onnx photo.jpg\n")
		fmt.Fprintf(os.Stderr, "  dejpeg -m models/fbcnn_color.onnx -s 80 -o clean.png photo.jpg\n")
		fmt.Fprintf(os.Stderr, "  dejpeg -m models/scunet_color_real_psnr.onnx --tile 512 *.jpg\n")
	}

	flag.Parse()
	config.Inputs = flag.Args()
	return config
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func sessionPolicy(config Config) (inference.Policy, error) {
	policy := inference.PolicyFor(config.ModelPath, runtime.NumCPU())
	if config.IntraThreads > 0 {
		policy.IntraOpThreads = config.IntraThreads
	}
	if config.InterThreads > 0 {
		policy.InterOpThreads = config.InterThreads
	}
	if config.OptLevel != "" {
		level, err := inference.ParseOptLevel(config.OptLevel)
		if err != nil {
			return policy, err
		}
		policy.Optimization = level
	}
	return policy, nil
}

func run(config Config) error {
	logger := newLogger(config.Verbose)

	if config.Strength < 0 || config.Strength > 100 {
		return fmt.Errorf("strength %v outside [0, 100]", config.Strength)
	}
	decoder, err := imageio.ParseDecoder(config.Decoder)
	if err != nil {
		return err
	}
	policy, err := sessionPolicy(config)
	if err != nil {
		return err
	}

	if err := inference.Initialize(config.ORTLibrary); err != nil {
		return err
	}
	defer inference.Shutdown()

	fmt.Fprintf(os.Stderr, "Loading %s (threads %d/%d, optimization %s)...\n",
		config.ModelPath, policy.IntraOpThreads, policy.InterOpThreads, policy.Optimization)
	session, err := inference.Load(config.ModelPath, policy)
	if err != nil {
		return err
	}
	defer session.Close()

	pipeConfig := pipeline.DefaultConfig()
	pipeConfig.TileMax = config.TileMax
	pipeConfig.TileOverlap = config.Overlap
	pipeConfig.Channels = config.Channels
	pipeConfig.Workers = config.Workers
	pipeConfig.MemoryBudget = config.MemoryMiB << 20
	pipeConfig.ScratchDir = config.ScratchDir
	pipeConfig.PadMultiple = config.PadMultiple
	pipeConfig.Logger = logger

	p := pipeline.New(pipeConfig)
	defer p.Close()

	prof, err := p.Profile(session)
	if err != nil {
		return err
	}
	logger.Debug("model profile",
		"family", prof.Family,
		"input", prof.PrimaryInput,
		"strength_input", prof.StrengthInput,
		"channels", prof.Channels,
		"tile", prof.TileMax,
		"overlap", prof.Overlap,
	)

	// First signal cancels the run, a second one exits immediately
	token := cancel.New()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nStopping...")
		token.Cancel()
		<-sigChan
		os.Exit(130)
	}()

	ctx := context.Background()
	for i, input := range config.Inputs {
		if token.Triggered() {
			return pipeline.ErrCancelled
		}
		output := config.Output
		if output == "" {
			output = imageio.OutputPath(input, config.Format)
		}
		if err := restoreFile(ctx, p, session, token, config, decoder, input, output, i+1, len(config.Inputs)); err != nil {
			return fmt.Errorf("%s: %w", input, err)
		}
	}
	return nil
}

func restoreFile(ctx context.Context, p *pipeline.Pipeline, model pipeline.Model, token *cancel.Token,
	config Config, decoder imageio.Decoder, input, output string, index, count int) error {

	img, err := imageio.Read(input, decoder)
	if err != nil {
		return err
	}

	var sink progress.Sink
	if !config.Quiet {
		sink = progress.SinkFunc(func(s progress.Snapshot) {
			fmt.Fprintf(os.Stderr, "\r%-48s", s.String())
		})
	}

	out, err := p.Run(ctx, pipeline.Request{
		Input:      img,
		Strength:   float32(config.Strength),
		Model:      model,
		Cancel:     token,
		Progress:   sink,
		ImageIndex: index,
		ImageCount: count,
	})
	if err != nil {
		return err
	}

	if err := imageio.Write(output, out, config.Quality); err != nil {
		return err
	}

	timing := p.LastTiming()
	if !config.Quiet {
		fmt.Fprintln(os.Stderr)
	}
	fmt.Printf("%s -> %s  %dx%d  %d tile(s)  E:%.0fms I:%.0fms D:%.0fms S:%.0fms T:%.0fms\n",
		input, output, img.Width, img.Height, timing.Tiles,
		float64(timing.Encode.Milliseconds()),
		float64(timing.Inference.Milliseconds()),
		float64(timing.Decode.Milliseconds()),
		float64(timing.Stitch.Milliseconds()),
		float64(timing.Total.Milliseconds()),
	)
	return nil
}
