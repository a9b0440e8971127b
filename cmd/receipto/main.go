package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"google.golang.org/api/option"

	"github.com/receipto/receipto/internal/app"
	"github.com/receipto/receipto/internal/extract"
	"github.com/receipto/receipto/internal/output"
	"github.com/receipto/receipto/internal/receipt"
	"github.com/receipto/receipto/internal/vision"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("receipto")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "receipto.db", "Database file path")
		storagePath   = fs.StringLong("storage", "./images", "Image storage directory path")
		annotatorType = fs.StringLong("annotator", "google", "OCR annotator: 'google' or 'gemini'")
		googleCreds   = fs.StringLong("google-credentials", "", "Google Cloud credentials JSON file (default: application default credentials)")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		smtpAddr      = fs.StringLong("smtp-addr", "", "SMTP relay address host:port (delivery disabled when empty)")
		smtpFrom      = fs.StringLong("smtp-from", "", "Sender address for receipt mail")
		smtpUser      = fs.StringLong("smtp-user", "", "SMTP username (optional)")
		smtpPass      = fs.StringLong("smtp-pass", "", "SMTP password (optional)")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPTO"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize database
	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize annotator based on type
	var annotator vision.Annotator
	switch *annotatorType {
	case "google":
		var opts []option.ClientOption
		if *googleCreds != "" {
			opts = append(opts, option.WithCredentialsFile(*googleCreds))
		}
		slog.Info("Initializing Cloud Vision annotator...")
		annotator, err = vision.NewGoogle(ctx, opts...)
		if err != nil {
			slog.Error("Failed to initialize Cloud Vision", "error", err)
			os.Exit(1)
		}
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini annotator...", "model", *geminiModel)
		annotator, err = vision.NewGemini(ctx, apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid annotator type", "type", *annotatorType, "valid", "google or gemini")
		os.Exit(1)
	}
	defer annotator.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize delivery
	var delivery app.Deliverer
	if *smtpAddr != "" {
		slog.Info("Initializing mail delivery...", "smtp", *smtpAddr)
		delivery = output.NewDelivery(output.NewSMTPMailer(*smtpAddr, *smtpFrom, *smtpUser, *smtpPass))
	} else {
		slog.Warn("No SMTP relay configured, receipt delivery disabled")
	}

	// Initialize service
	service := app.NewService(db, store, annotator, extract.DefaultRegistry(), delivery)

	// Initialize server
	basicAuth := app.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := app.NewServer(service, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
