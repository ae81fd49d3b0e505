package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"image-optimizer-go/internal/archive"
	"image-optimizer-go/internal/batch"
	"image-optimizer-go/internal/codec"
	"image-optimizer-go/internal/compressor"
	"image-optimizer-go/internal/config"
	"image-optimizer-go/internal/handle"
	"image-optimizer-go/internal/logger"
	"image-optimizer-go/internal/metadata"
	"image-optimizer-go/internal/naming"
	"image-optimizer-go/internal/pipeline"
	"image-optimizer-go/internal/resize"
	"image-optimizer-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	verbose  bool
	quiet    bool
	port     int
	outFile  string
	aiNames  bool
	format   string
	quality  float64
	maxW     int
	maxH     int
	keepMeta bool
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "image-optimizer",
	Short: "Resize, recompress and rename batches of images",
	Long: `Image Optimizer shrinks batches of images by resizing them within
configurable bounds and re-encoding them as WebP, AVIF, JPEG or PNG.

Features:
- Bounded resizing that keeps the aspect ratio
- Quality driven compression with a size budget
- Optional metadata preservation
- AI suggested file names
- Zip export of every optimized image
- Web interface with live progress`,
}

// serveCmd starts the web interface server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web interface server",
	Long: `Starts a web server exposing the batch over HTTP and WebSocket.
Upload images, adjust settings, run the batch and download the archive.

Access the interface at http://localhost:<port> (default: 8080)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

// optimizeCmd runs one batch from the command line.
var optimizeCmd = &cobra.Command{
	Use:   "optimize <file>...",
	Short: "Optimize images and write them to a zip archive",
	Long: `Optimizes the given images with the configured settings and writes every
successful result into a single zip archive. Failed images are reported and
left out of the archive.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOptimize(cmd, args)
	},
}

// inspectCmd shows what the optimizer sees in a single file.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show format, dimensions and metadata of an image",
	Long: `Shows the detected media type, pixel size and EXIF summary of an image,
and the size it would be resized to with the current settings.
This is useful for checking settings before running a batch.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(cmd, args[0])
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.PersistentFlags().StringVar(&format, "format", "", "target format (original, webp, avif, jpeg, png)")
	rootCmd.PersistentFlags().Float64Var(&quality, "quality", 0, "compression quality in (0, 1]")
	rootCmd.PersistentFlags().IntVar(&maxW, "max-width", 0, "maximum output width in pixels")
	rootCmd.PersistentFlags().IntVar(&maxH, "max-height", 0, "maximum output height in pixels")
	rootCmd.PersistentFlags().BoolVar(&keepMeta, "preserve-metadata", false, "copy EXIF metadata into results")

	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run web server on")

	optimizeCmd.Flags().StringVarP(&outFile, "out", "o", "", "archive path (default from config)")
	optimizeCmd.Flags().BoolVar(&aiNames, "ai-names", false, "suggest a name for every optimized image")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(optimizeCmd)
	rootCmd.AddCommand(inspectCmd)
}

// initConfig reports which config file will be used.
func initConfig() {
	if cfgFile != "" && !fileExists(cfgFile) {
		fmt.Fprintf(os.Stderr, "Config file not found: %s\n", cfgFile)
	}
}

// flagKeys maps CLI flags to the config keys they override.
var flagKeys = map[string]string{
	"format":            "settings.target_format",
	"quality":           "settings.quality",
	"max-width":         "settings.max_width",
	"max-height":        "settings.max_height",
	"preserve-metadata": "settings.preserve_metadata",
	"port":              "server.port",
}

// loadConfig loads configuration through the global viper instance. Flags
// set on cmd override file and environment values.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			viper.Set(key, f.Value.String())
		}
	}
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if used := viper.ConfigFileUsed(); used != "" && !quiet {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", used)
	}
	return cfg, nil
}

// newPipeline wires the registry and the orchestrator around cfg.
func newPipeline(cfg *config.Config, log *logrus.Logger, hook pipeline.LogHookFunc) (*batch.Registry, *pipeline.Orchestrator) {
	registry := batch.NewRegistry(handle.NewStore(), cfg.BatchSettings())
	invoker := compressor.NewInvoker(compressor.NewDefaultEngine(log))
	return registry, pipeline.NewOrchestratorWithLogHook(registry, invoker, log, hook)
}

// namingUpstream returns the configured model, or nil without credentials.
func namingUpstream(cfg *config.Config) naming.Upstream {
	if !cfg.NamingAvailable() {
		return nil
	}
	g := naming.NewGeminiUpstream(cfg.NamingService.BaseURL, cfg.NamingService.Model, cfg.NamingService.APIKey, cfg.NamingService.Timeout)
	if cfg.NamingService.Prompt != "" {
		g.Prompt = cfg.NamingService.Prompt
	}
	return g
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
	}

	log := setupLogger(cfg)

	var server *web.Server
	registry, orchestrator := newPipeline(cfg, log, func(level, message string) {
		server.LogHook(level, message)
	})

	svc := web.Services{
		Registry:     registry,
		Orchestrator: orchestrator,
		Exporter:     archive.NewExporter(registry.Handles(), log),
	}
	if upstream := namingUpstream(cfg); upstream != nil {
		svc.NamingService = naming.NewServiceHandler(upstream, log)
	} else {
		log.Info("No naming service API key configured, /api/name disabled")
	}
	if cfg.Naming.Enabled {
		svc.Namer = naming.NewCoordinator(registry, naming.NewHTTPClient(cfg.Naming.Endpoint, cfg.Naming.Timeout), log)
	}

	server = web.NewServer(cfg, log, svc)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("Image Optimizer web interface started\n")
	fmt.Printf("Open your browser at http://localhost:%d\n", cfg.Server.Port)
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

// runOptimize processes files as one batch and writes the archive.
func runOptimize(cmd *cobra.Command, files []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := setupLogger(cfg)
	registry, orchestrator := newPipeline(cfg, log, nil)

	var inputs []batch.Input
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			log.WithError(err).Warnf("Skipping %s", path)
			continue
		}
		mediaType := codec.MediaTypeForName(path)
		if mediaType == "" {
			log.Warnf("Skipping %s: not a supported image", path)
			continue
		}
		inputs = append(inputs, batch.Input{Name: filepath.Base(path), MediaType: mediaType, Data: data})
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no images to optimize")
	}
	registry.Add(inputs...)

	stats, err := orchestrator.RunBatch(ctx)
	interrupted := errors.Is(err, context.Canceled)
	switch {
	case interrupted:
		log.Warn("Interrupted, writing the images optimized so far")
	case err != nil:
		return fmt.Errorf("batch failed: %w", err)
	}

	if aiNames && !interrupted {
		if err := suggestNames(ctx, cfg, log, registry); err != nil {
			return err
		}
	}

	path := outFile
	if path == "" {
		path = cfg.Archive.FileName
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	exporter := archive.NewExporter(registry.Handles(), log)
	n, err := exporter.Write(f, registry.Snapshot())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write archive: %w", err)
	}
	if n == 0 {
		os.Remove(path)
	}

	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
		if errs := stats.GetErrorSummary(); errs != "" {
			fmt.Println(errs)
		}
		if n > 0 {
			fmt.Printf("Wrote %d images to %s\n", n, path)
		} else {
			fmt.Println("No images were optimized, archive not written")
		}
	}

	registry.Clear()
	return nil
}

// suggestNames names every completed record, calling the model in process
// when credentials exist and the configured endpoint otherwise.
func suggestNames(ctx context.Context, cfg *config.Config, log *logrus.Logger, registry *batch.Registry) error {
	var client naming.Client
	switch upstream := namingUpstream(cfg); {
	case upstream != nil:
		client = naming.UpstreamClient{Upstream: upstream}
	case cfg.Naming.Endpoint != "":
		client = naming.NewHTTPClient(cfg.Naming.Endpoint, cfg.Naming.Timeout)
	default:
		return fmt.Errorf("--ai-names needs naming_service.api_key or naming.endpoint")
	}

	namer := naming.NewCoordinator(registry, client, log)
	for _, rec := range registry.Snapshot() {
		if rec.Status != batch.StatusCompleted {
			continue
		}
		if name, ok := namer.SuggestName(ctx, rec.ID); ok {
			log.Infof("Named %s as %s", rec.SourceName, name)
		}
	}
	return nil
}

// runInspect prints what the optimizer detects in a file.
func runInspect(cmd *cobra.Command, path string) error {
	if !fileExists(path) {
		return fmt.Errorf("file does not exist: %s", path)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	mediaType := codec.MediaTypeForName(path)
	fmt.Printf("Inspecting: %s\n", path)
	fmt.Printf("Media type: %s\n", orNone(mediaType))
	fmt.Printf("Size:       %d bytes\n", len(data))

	w, h, err := codec.Dimensions(data)
	if err != nil {
		fmt.Printf("Dimensions: unreadable (%v)\n", err)
		return nil
	}
	fmt.Printf("Dimensions: %dx%d\n", w, h)

	settings := cfg.BatchSettings()
	if nw, nh, ok := resize.Fit(w, h, settings.MaxWidth, settings.MaxHeight); ok {
		fmt.Printf("Resized to: %dx%d\n", nw, nh)
	} else {
		fmt.Println("Resized to: unchanged")
	}
	fmt.Printf("Output:     %s\n", settings.OutputMediaType(mediaType))

	info := metadata.Inspect(data)
	if !info.HasEXIF {
		fmt.Println("EXIF:       none")
		return nil
	}
	fmt.Printf("Camera:     %s\n", orNone(info.Camera()))
	fmt.Printf("Software:   %s\n", orNone(info.Software))
	fmt.Printf("Orientation: %d\n", info.Orientation)
	if info.Taken != nil {
		fmt.Printf("Taken:      %s\n", info.Taken.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
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
		Text:       cfg.Logging.Format == "text",
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

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
