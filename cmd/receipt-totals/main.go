package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-totals/internal/scanning"
	"github.com/zombor/receipt-totals/internal/totals"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// config holds the flags shared by every subcommand
type config struct {
	scannerType *string
	hfToken     *string
	hfURL       *string
	hfModel     *string
	geminiKey   *string
	geminiModel *string
	ollamaURL   *string
	ollamaModel *string
	concurrency *int
	timeout     *time.Duration
	onMissing   *string
	onFailure   *string
	debug       *bool
}

func main() {
	// Check version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine
	_ = godotenv.Load()

	root, cfg, showVersion := newRootCommand()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.Parse(os.Args[1:], ff.WithEnvVarPrefix("RECEIPT_TOTALS")); err != nil {
		selected := root.GetSelected()
		if selected == nil {
			selected = root
		}
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(selected))
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing, it may come from the environment
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	configureLogging(*cfg.debug)

	if err := root.Run(ctx); err != nil {
		if errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root))
			os.Exit(1)
		}
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// newRootCommand builds the command tree. The returned config and version
// pointers are filled in by Parse.
func newRootCommand() (*ff.Command, config, *bool) {
	rootFlags := ff.NewFlagSet("receipt-totals")
	cfg := config{
		scannerType: rootFlags.StringLong("scanner", "huggingface", "Scanner type: 'huggingface', 'gemini' or 'ollama'"),
		hfToken:     rootFlags.StringLong("hf-token", "", "Hugging Face token (or set HF_TOKEN env var)"),
		hfURL:       rootFlags.StringLong("hf-url", scanning.DefaultHuggingFaceURL, "Hugging Face router base URL"),
		hfModel:     rootFlags.StringLong("hf-model", scanning.DefaultHuggingFaceModel, "Hugging Face model name"),
		geminiKey:   rootFlags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel: rootFlags.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name"),
		ollamaURL:   rootFlags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel: rootFlags.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl, gemma3)"),
		concurrency: rootFlags.IntLong("concurrency", 1, "Receipts scanned at once (1 scans in upload order)"),
		timeout:     rootFlags.DurationLong("timeout", scanning.DefaultTimeout, "Timeout for a single model call"),
		onMissing:   rootFlags.StringLong("on-missing", "zero", "Receipts with no readable total: 'zero' or 'abort'"),
		onFailure:   rootFlags.StringLong("on-failure", "abort", "Failed model calls: 'abort' or 'collect'"),
		debug:       rootFlags.BoolLong("debug", "Enable debug logging"),
	}
	showVersion := rootFlags.BoolLong("version", "Show version information")

	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	port := serveFlags.IntLong("port", 8080, "HTTP server port")
	serveCmd := &ff.Command{
		Name:      "serve",
		Usage:     "receipt-totals serve [FLAGS]",
		ShortHelp: "serve the monthly totals HTTP API",
		Flags:     serveFlags,
		Exec: func(ctx context.Context, args []string) error {
			return runServe(ctx, cfg, *port)
		},
	}

	sumFlags := ff.NewFlagSet("sum").SetParent(rootFlags)
	month := sumFlags.StringLong("month", "", "Month label YYYY-MM (defaults to the current month)")
	sumCmd := &ff.Command{
		Name:      "sum",
		Usage:     "receipt-totals sum [FLAGS] FILE...",
		ShortHelp: "total the receipt images given as arguments",
		Flags:     sumFlags,
		Exec: func(ctx context.Context, args []string) error {
			return runSum(ctx, cfg, *month, args)
		},
	}

	return &ff.Command{
		Name:        "receipt-totals",
		Usage:       "receipt-totals <SUBCOMMAND> [FLAGS]",
		ShortHelp:   "sum the totals printed on receipt images for a month",
		Flags:       rootFlags,
		Subcommands: []*ff.Command{serveCmd, sumCmd},
	}, cfg, showVersion
}

func configureLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// newClient builds the inference client selected by --scanner
func newClient(cfg config) (scanning.Client, error) {
	switch *cfg.scannerType {
	case "huggingface":
		token := *cfg.hfToken
		if token == "" {
			token = os.Getenv("HF_TOKEN")
		}
		if token == "" {
			return nil, errors.New("hugging face token is required. Set --hf-token flag or HF_TOKEN environment variable")
		}
		slog.Info("Initializing Hugging Face scanner...", "url", *cfg.hfURL, "model", *cfg.hfModel)
		return scanning.NewHuggingFace(token, *cfg.hfURL, *cfg.hfModel)
	case "gemini":
		apiKey := *cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
		}
		slog.Info("Initializing Gemini scanner...", "model", *cfg.geminiModel)
		return scanning.NewGemini(apiKey, *cfg.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *cfg.ollamaURL, "model", *cfg.ollamaModel)
		return scanning.NewOllama(*cfg.ollamaURL, *cfg.ollamaModel)
	}
	return nil, fmt.Errorf("invalid scanner type %q: must be 'huggingface', 'gemini' or 'ollama'", *cfg.scannerType)
}

// newService wires the client, extractor, aggregator and service together
func newService(cfg config) (*totals.Service, scanning.Client, error) {
	missing, err := totals.ParseMissingPolicy(*cfg.onMissing)
	if err != nil {
		return nil, nil, err
	}
	failure, err := totals.ParseFailurePolicy(*cfg.onFailure)
	if err != nil {
		return nil, nil, err
	}

	client, err := newClient(cfg)
	if err != nil {
		return nil, nil, err
	}

	extractor := scanning.NewExtractor(client, scanning.WithTimeout(*cfg.timeout))
	aggregator := totals.NewAggregator(extractor,
		totals.WithConcurrency(*cfg.concurrency),
		totals.WithMissingPolicy(missing),
		totals.WithFailurePolicy(failure),
	)

	return totals.NewService(aggregator), client, nil
}

func runServe(ctx context.Context, cfg config, port int) error {
	service, client, err := newService(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	server := totals.NewServer(service)
	addr := fmt.Sprintf(":%d", port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))

	if err := server.Start(ctx, addr); err != nil {
		return fmt.Errorf("serving: %w", err)
	}

	slog.Info("Shutting down...")
	return nil
}

func runSum(ctx context.Context, cfg config, month string, paths []string) error {
	if len(paths) == 0 {
		return errors.New("upload at least one receipt image")
	}

	images := make([]scanning.Image, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading receipt: %w", err)
		}
		images = append(images, scanning.Image{
			Data:        data,
			ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
			Filename:    filepath.Base(path),
		})
	}

	service, client, err := newService(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	report, err := service.Calculate(ctx, month, images)
	if err != nil {
		return err
	}

	for _, item := range report.Items {
		switch {
		case item.Error != "":
			fmt.Printf("%-40s failed: %s\n", item.Filename, item.Error)
		case !item.Found:
			fmt.Printf("%-40s no total found\n", item.Filename)
		default:
			fmt.Printf("%-40s %s\n", item.Filename, totals.FormatTotal(item.Amount))
		}
	}
	fmt.Printf("\n%s total: %s\n", report.Month, report.Display)

	return nil
}
