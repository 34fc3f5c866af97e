package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-shrink-go/internal/compressor"
	"media-shrink-go/internal/config"
	"media-shrink-go/internal/installer"
	"media-shrink-go/internal/logger"
	"media-shrink-go/internal/statistics"
	"media-shrink-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile         string
	outputPath      string
	quality         int
	targetReduction float64
	dryRun          bool
	verbose         bool
	quiet           bool
	installMissing  bool
	port            int
)

// rootCmd compresses a single file, detecting the media kind from the extension.
var rootCmd = &cobra.Command{
	Use:   "media-shrink [file]",
	Short: "Compress PDF, image and video files",
	Long: `MediaShrink compresses media files by invoking the right backend for
each kind: Ghostscript for PDFs, an in-process JPEG/PNG re-encoder for
images and a two-pass ffmpeg encode for videos.

The media kind is detected from the file extension; use the pdf, image
and video subcommands to force a kind. Output defaults to
<name>_compressed<ext> next to the input.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(args[0], "")
	},
}

// pdfCmd compresses a PDF with Ghostscript.
var pdfCmd = &cobra.Command{
	Use:           "pdf <file>",
	Short:         "Compress a PDF file with Ghostscript",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(args[0], compressor.KindPDF)
	},
}

// imageCmd compresses an image in process.
var imageCmd = &cobra.Command{
	Use:           "image <file>",
	Short:         "Compress a JPEG or PNG image",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(args[0], compressor.KindImage)
	},
}

// videoCmd compresses a video with ffmpeg.
var videoCmd = &cobra.Command{
	Use:           "video <file>",
	Short:         "Compress a video with a two-pass ffmpeg encode",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(args[0], compressor.KindVideo)
	},
}

// batchCmd compresses every supported file under a directory.
var batchCmd = &cobra.Command{
	Use:   "batch <directory>",
	Short: "Compress all supported files under a directory",
	Long: `Recursively collects all PDF, image and video files under the given
directory and compresses them with a bounded worker pool. Files whose
name already ends in _compressed are left alone.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(args[0])
	},
}

// doctorCmd checks for the external tools the backends need.
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check for required external tools",
	Long: `Checks that the external tools the compression backends shell out to
(gs, ffmpeg, ffprobe, exiftool) are present on PATH. With --install,
missing tools are installed via the system package manager.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDoctor()
	},
}

// serveCmd starts the web interface server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web interface server",
	Long: `Starts an HTTP server exposing compression over a JSON API with
websocket progress events:
- POST /api/compress starts a compression job
- GET  /api/status reports the running job and its statistics
- GET  /api/tools reports external tool presence
- GET  /api/results returns the last job's per-file results`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	for _, cmd := range []*cobra.Command{rootCmd, pdfCmd, imageCmd, videoCmd, batchCmd} {
		cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output path (default: <name>_compressed<ext>)")
		cmd.Flags().IntVarP(&quality, "quality", "q", -1, "quality 0-100, higher is better fidelity")
		cmd.Flags().Float64Var(&targetReduction, "target-reduction", 0, "target size reduction 0.0-1.0 (images only)")
	}
	batchCmd.Flags().BoolVar(&dryRun, "dry-run", false, "list files without compressing them")

	doctorCmd.Flags().BoolVar(&installMissing, "install", false, "install missing tools via the package manager")
	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run web server on")

	rootCmd.AddCommand(pdfCmd)
	rootCmd.AddCommand(imageCmd)
	rootCmd.AddCommand(videoCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(serveCmd)
}

// initConfig loads configuration file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.media-shrink")
		viper.AddConfigPath("/etc/media-shrink")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// runCompress handles the single-file commands.
func runCompress(inputPath string, kind compressor.MediaKind) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	set := buildSet(cfg, log)

	q := quality
	if q < 0 {
		q = cfg.Quality
	}
	tr := targetReduction
	if tr == 0 {
		tr = cfg.TargetReduction
	}

	res, err := set.Compress(context.Background(), compressor.Request{
		InputPath:       inputPath,
		OutputPath:      outputPath,
		Kind:            kind,
		Quality:         q,
		TargetReduction: tr,
	})
	if err != nil {
		return err
	}

	if !quiet {
		printResult(res)
	}
	return nil
}

// runBatch handles the batch command.
func runBatch(dir string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	set := buildSet(cfg, log)
	stats := statistics.NewStatistics()
	batch := compressor.NewBatch(set, log, stats)

	q := quality
	if q < 0 {
		q = cfg.Quality
	}

	_, err = batch.Run(context.Background(), compressor.BatchParams{
		InputPaths:      []string{dir},
		OutputDir:       outputPath,
		Quality:         q,
		TargetReduction: targetReduction,
		Workers:         cfg.Batch.WorkerThreads,
		DryRun:          dryRun || cfg.Batch.DryRun,
	}, func(res compressor.Result) {
		if !quiet {
			printResult(res)
		}
	})
	stats.Finalize()
	if err != nil {
		return err
	}

	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
		fmt.Println("\n" + stats.GetKindBreakdown())
		if stats.FilesWithErrors > 0 {
			fmt.Println(stats.GetErrorSummary())
		}
	}
	return nil
}

// runDoctor handles the doctor command.
func runDoctor() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	inst := installer.New(log)

	var statuses []installer.ToolStatus
	if installMissing {
		statuses, err = inst.InstallMissing(context.Background(), cfg.Install.Tools)
	} else {
		statuses = inst.Check(cfg.Install.Tools)
	}

	for _, st := range statuses {
		switch {
		case st.Present:
			fmt.Printf("  ok       %-10s %s\n", st.Name, st.Path)
		case st.Installed:
			fmt.Printf("  installed %-10s (package %s)\n", st.Name, st.Package)
		default:
			fmt.Printf("  missing  %-10s (package %s)\n", st.Name, st.Package)
		}
	}
	if err != nil {
		return err
	}

	if !installMissing {
		if missing := inst.Missing(cfg.Install.Tools); len(missing) > 0 {
			fmt.Printf("\nRun 'media-shrink doctor --install' to install: %v\n", missing)
		}
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
	}

	log := setupLogger(cfg)
	set := buildSet(cfg, log)
	server := web.NewServer(cfg, log, set, installer.New(log))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("MediaShrink web interface started on http://localhost:%d\n", port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// buildSet constructs the backend set from configuration.
func buildSet(cfg *config.Config, log *logrus.Logger) *compressor.Set {
	return compressor.NewSet(
		compressor.NewPDFCompressor(log, cfg.PDF.GhostscriptPath),
		compressor.NewImageCompressor(log, cfg.Image.KeepMetadata),
		compressor.NewVideoCompressor(log, cfg.Video.FFmpegPath, cfg.Video.FFprobePath, cfg.Video.Preset),
	)
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// printResult writes a one-line human summary for a finished file.
func printResult(res compressor.Result) {
	switch res.Action {
	case "compressed":
		fmt.Printf("%s -> %s (%d -> %d bytes, %.1f%% saved)\n",
			res.InputPath, res.OutputPath, res.OriginalSize, res.CompressedSize, res.PercentageSaved)
	case "original":
		fmt.Printf("%s -> %s (kept original, %d bytes)\n",
			res.InputPath, res.OutputPath, res.OriginalSize)
	case "skipped":
		fmt.Printf("%s skipped: %s\n", res.InputPath, res.Message)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
