package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"github.com/jsign/gas-profiler/analysis/profiler"
	"github.com/jsign/gas-profiler/compiler"
	"github.com/jsign/gas-profiler/etherscan"
	"github.com/jsign/gas-profiler/node"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		return fmt.Errorf("parsing arguments: %w", err)
	}
	if cfg.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nodeClient, err := node.Dial(ctx, cfg.Node)
	if err != nil {
		return err
	}
	defer nodeClient.Close()
	explorer := etherscan.New(cfg.Etherscan)

	p := profiler.New(cfg.Profiler,
		nodeClient,
		explorer,
		contractMetadata{code: nodeClient, sources: explorer},
		compiler.New(cfg.Compiler),
	)

	if cfg.Address != "" {
		return profileOnce(ctx, p, cfg.Address)
	}
	return serve(ctx, cfg.ListenAddr, p)
}

func profileOnce(ctx context.Context, p profileRunner, address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid address %q", address)
	}
	report, err := p.Profile(ctx, common.HexToAddress(address))
	if err != nil {
		return fmt.Errorf("%s: %w", profiler.Kind(err), err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func newRouter(p profileRunner) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Get("/profile/{address}", profileHandler(p))
	return r
}

func serve(ctx context.Context, addr string, p profileRunner) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(p),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Failed to shut down server: %v", err)
		}
	}()

	log.Infof("Listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
