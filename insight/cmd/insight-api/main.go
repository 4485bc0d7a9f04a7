package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/cfuwib/insightbot/insight/agent/pkg/pipeline"
	"github.com/cfuwib/insightbot/insight/api/config"
	"github.com/cfuwib/insightbot/insight/api/handlers"
	"github.com/cfuwib/insightbot/insight/api/metrics"
	"github.com/cfuwib/insightbot/insight/api/server"
	"github.com/cfuwib/insightbot/insight/pkg/etl"
	"github.com/cfuwib/insightbot/insight/pkg/templates"
	"github.com/cfuwib/insightbot/insight/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging (or set VERBOSE env var)")
	portFlag := flag.Int("port", 0, "HTTP listen port (or set PORT env var, default 8123)")
	metricsAddrFlag := flag.String("metrics-addr", "", "Address to listen on for prometheus metrics (or set METRICS_ADDR env var)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *portFlag != 0 {
		cfg.Port = *portFlag
	}
	if *metricsAddrFlag != "" {
		cfg.MetricsAddr = *metricsAddrFlag
	}

	log := logger.New(*verboseFlag || cfg.Verbose)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigCh
		log.Info("server: received signal", "signal", sig.String())
		cancel()
	}()

	metricsServerErrCh := make(chan error, 1)
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	if cfg.MetricsAddr != "" {
		go func() {
			listener, err := net.Listen("tcp", cfg.MetricsAddr)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				metricsServerErrCh <- err
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, mux); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
				metricsServerErrCh <- err
			}
		}()
	}

	tmpl, err := templates.Load(log)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	db, loaded, err := etl.LoadIfMissing(ctx, log, cfg.DataPath, cfg.DatabasePath, tmpl.Tables())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database", "error", err)
		}
	}()
	log.Info("using database", "path", cfg.DatabasePath, "loaded", loaded)

	llm, err := newLLMClient(log, cfg)
	if err != nil {
		return err
	}

	prompts, err := pipeline.LoadPrompts()
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}

	p, err := pipeline.New(&pipeline.Config{
		Logger:    log,
		LLM:       llm,
		Querier:   db,
		Schema:    db,
		Templates: tmpl,
		Prompts:   prompts,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	h, err := handlers.New(&handlers.Config{
		Logger:    log,
		Service:   p,
		APIKey:    cfg.APIKey,
		Workers:   cfg.Workers,
		StreamTTL: cfg.StreamTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to create handlers: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to create HTTP listener: %w", err)
	}
	defer listener.Close()

	srv, err := server.New(server.Config{
		Logger:   log,
		Listener: listener,
		Handlers: h,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.Run(ctx)
	}()

	select {
	case err := <-serverErrCh:
		if err != nil {
			log.Error("server: server error causing shutdown", "error", err)
		}
		return err
	case err := <-metricsServerErrCh:
		log.Error("server: metrics server error causing shutdown", "error", err)
		return err
	}
}

func newLLMClient(log *slog.Logger, cfg *config.Config) (pipeline.LLMClient, error) {
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		log.Info("llm: using anthropic", "model", cfg.LLMModel)
		client, err := pipeline.NewAnthropicLLMClient(&pipeline.AnthropicLLMConfig{
			Logger:     log,
			Model:      anthropic.Model(cfg.LLMModel),
			APIKey:     cfg.AnthropicAPIKey,
			Timeout:    cfg.LLMTimeout,
			MaxRetries: cfg.LLMMaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic llm client: %w", err)
		}
		return client, nil
	default:
		log.Info("llm: using custom endpoint", "model", cfg.LLMModel)
		client, err := pipeline.NewCustomLLMClient(&pipeline.CustomLLMConfig{
			Logger:     log,
			URL:        cfg.LLMURL,
			Token:      cfg.LLMToken,
			Model:      cfg.LLMModel,
			Timeout:    cfg.LLMTimeout,
			MaxRetries: cfg.LLMMaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create custom llm client: %w", err)
		}
		return client, nil
	}
}
