package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wasmindexer/internal/compute"
	"wasmindexer/internal/formula"
	"wasmindexer/internal/formula/formulas"
	"wasmindexer/internal/httpapi"
	"wasmindexer/internal/ingest"
	"wasmindexer/internal/keycodec"
	"wasmindexer/internal/logging"
	"wasmindexer/internal/metrics"
	"wasmindexer/internal/model"
	"wasmindexer/internal/search"
	"wasmindexer/internal/store"
	"wasmindexer/internal/transform"
	"wasmindexer/internal/webhook"
	"wasmindexer/pkg/config"
)

func main() {
	_ = godotenv.Load(".env")

	root := &cobra.Command{Use: "indexer"}
	root.AddCommand(serveCmd())
	root.AddCommand(queryCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the ingestion driver and the read-only query server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func queryCmd() *cobra.Command {
	var contract, formulaName, atBlock string
	c := &cobra.Command{
		Use:   "query",
		Short: "evaluate one formula against the computation cache and print its output",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(formulaName, contract, atBlock)
		},
	}
	c.Flags().StringVar(&formulaName, "formula", "", "formula name")
	c.Flags().StringVar(&contract, "contract", "", "target contract address")
	c.Flags().StringVar(&atBlock, "at-block", "", "optional block height to pin the query to")
	return c
}

func runServe() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Sync()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN}); err != nil {
			log.Warnw("sentry init failed", "error", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infow("shutdown signal received")
		cancel()
	}()

	db, err := store.Open(ctx, cfg.Database.URL, cfg.Database.MaxConns, log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	mx := metrics.New()
	registry := defaultRegistry()
	runtime := formula.NewRuntime(db, registry, cfg.ChainID)
	cache := compute.New(db, runtime, mx)
	transformer := transform.New(defaultRules()...)
	indexer := search.NewNoop(log)

	var dispatcher ingest.Dispatcher
	if cfg.WebhooksEnabled {
		subs, err := webhook.CompileSubscriptions(cfg.Webhooks)
		if err != nil {
			return fmt.Errorf("compile webhook subscriptions: %w", err)
		}
		dispatcher = webhook.New(db, subs)

		drainer := webhook.NewDrainer(db, *cfg, 4, log, mx)
		go drainLoop(ctx, drainer, log)
	}

	driver, err := ingest.New(ctx, db, transformer, cache, dispatcher, indexer, log, ingest.Options{
		Batch:               cfg.Batch,
		InitialBlockHeight:  cfg.InitialBlockHeight,
		CacheUpdatesEnabled: cfg.CacheUpdatesEnabled,
		WebhooksEnabled:     cfg.WebhooksEnabled,
	}, mx)
	if err != nil {
		return fmt.Errorf("init ingestion driver: %w", err)
	}

	stream, err := openSourceStream(cfg.Sources.Wasm)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer stream.Close()

	go func() {
		if err := driver.Run(ctx, stream); err != nil {
			log.Errorw("ingestion driver stopped", "error", err)
			cancel()
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", mx.Handler())
	metricsSrv := &http.Server{Addr: ":9090", Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("metrics server stopped", "error", err)
		}
	}()

	server := httpapi.NewServer(cfg.Server.ListenAddr, cache, log)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Errorw("query server stopped", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	return nil
}

func runQuery(formulaName, contract, atBlockStr string) error {
	if formulaName == "" || contract == "" {
		return fmt.Errorf("--formula and --contract are required")
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.NewNop()

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.Database.URL, cfg.Database.MaxConns, log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	registry := defaultRegistry()
	runtime := formula.NewRuntime(db, registry, cfg.ChainID)
	cache := compute.New(db, runtime, nil)

	var atBlock *uint64
	if atBlockStr != "" {
		var h uint64
		if _, err := fmt.Sscanf(atBlockStr, "%d", &h); err != nil {
			return fmt.Errorf("invalid --at-block: %w", err)
		}
		atBlock = &h
	}

	comp, err := cache.Query(ctx, formulaName, contract, map[string]string{}, atBlock)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(comp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// openSourceStream opens the configured event source. An empty path or "-"
// reads from stdin, matching the teacher's convention of treating missing
// file configuration as "use the default stream" rather than failing. An
// http:// or https:// URL is read as the streamed body of a GET request;
// anything else is opened as a local file.
func openSourceStream(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		resp, err := http.Get(path)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("event stream %s: status %d", path, resp.StatusCode)
		}
		return resp.Body, nil
	}
	return os.Open(path)
}

func defaultRegistry() *formula.Registry {
	reg := formula.NewRegistry()
	reg.Register("balance", formulas.Balance)
	reg.Register("total_supply", formulas.TotalSupply)
	return reg
}

// balanceKeyPrefix is the same literal prefix formulas.Balance reads through
// keycodec, canonicalized the same way (spec §4.6's lesson applies here
// too: compare against the canonical comma-byte key, never the literal).
// The rule below matches it directly against e.Key rather than decoded
// segments, since "balance:"+address is a flat key, not the chain's
// length-prefixed composite map encoding DecodeSegments expects.
var balanceKeyPrefix = keycodec.BytesToEventKey([]byte("balance:"))

func defaultRules() []transform.Rule {
	return []transform.Rule{
		{
			Name:         "balance",
			NameTemplate: func(segments [][]byte) string { return "balance" },
			Project: func(e model.WasmEvent, segments [][]byte) transform.ProjectResult {
				if !strings.HasPrefix(e.Key, balanceKeyPrefix) {
					return transform.ProjectResult{Skipped: true}
				}
				return transform.ProjectResult{Value: e.ValueJSON}
			},
			PropagateDeletes: true,
		},
	}
}

func drainLoop(ctx context.Context, drainer *webhook.Drainer, log *zap.SugaredLogger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := drainer.DrainOnce(ctx, 200); err != nil {
				log.Errorw("webhook drain failed", "error", err)
			}
		}
	}
}
