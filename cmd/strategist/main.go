// Command strategist generates validated extraction schemas from HTML
// documents and natural-language intents.
//
// Usage:
//
//	strategist -html page.html -query "extract job titles and salaries"
//	strategist -config strategist.yaml -serve        # HTTP API
//	strategist -config strategist.yaml -mcp          # MCP over stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/strategist"
	"github.com/hazyhaar/strategist/internal/oracle"
	"github.com/hazyhaar/strategist/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to strategist.yaml config file")
	htmlPath := flag.String("html", "", "path to HTML file to analyze (one-shot)")
	query := flag.String("query", "", "extraction intent for one-shot analysis")
	serveHTTP := flag.Bool("serve", false, "serve the HTTP API")
	serveMCP := flag.Bool("mcp", false, "serve MCP over stdio")
	dbPath := flag.String("db", "", "path to SQLite schema store (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *htmlPath, *query, *dbPath, *serveHTTP, *serveMCP); err != nil {
		logger.Error("strategist: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, htmlPath, query, dbPath string, serveHTTP, serveMCP bool) error {
	cfg, err := strategist.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	caller := oracle.NewHTTPCaller(cfg.Client, logger)
	s := strategist.New(caller, cfg, logger)

	var st *store.Store
	if cfg.DBPath != "" {
		st, err = store.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		s.SetStore(st)
	}

	switch {
	case serveMCP:
		srv := mcp.NewServer(&mcp.Implementation{Name: "strategist", Version: "0.1.0"}, nil)
		s.RegisterMCP(srv)
		logger.Info("strategist: serving MCP on stdio")
		return srv.Run(ctx, &mcp.StdioTransport{})

	case serveHTTP:
		api := strategist.NewServer(s, st, logger)
		httpSrv := &http.Server{
			Addr:              cfg.Listen,
			Handler:           api.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpSrv.Shutdown(shutdownCtx)
		}()
		logger.Info("strategist: serving HTTP", "listen", cfg.Listen)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil

	default:
		if htmlPath == "" || query == "" {
			return errors.New("one-shot mode requires -html and -query (or use -serve / -mcp)")
		}
		raw, err := os.ReadFile(htmlPath)
		if err != nil {
			return fmt.Errorf("read html: %w", err)
		}
		schema, err := s.Analyze(ctx, string(raw), query)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(schema)
	}
}
