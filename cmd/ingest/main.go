package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/seanblong/docsearch/internal/ai"
	"github.com/seanblong/docsearch/internal/chunker"
	"github.com/seanblong/docsearch/internal/config"
	"github.com/seanblong/docsearch/internal/ingest"
	"github.com/seanblong/docsearch/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("docsearch-ingest", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	zlog.Logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		log.Fatalf("Invalid provider: %v", err)
	}
	zlog.Info().Str("provider", string(clientConfig.Provider)).Str("root", cfg.DocsRoot).Msg("starting ingestion")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	c, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatal(err)
	}
	if c.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}
	if err := st.Migrate(ctx, c.Dim()); err != nil {
		log.Fatal(err)
	}

	tok, err := chunker.NewTiktoken(cfg.Tokenizer)
	if err != nil {
		log.Fatal(err)
	}
	ch, err := chunker.New(tok, cfg.ChunkWindow, cfg.ChunkOverlap)
	if err != nil {
		log.Fatal(err)
	}

	report, err := ingest.New(st, c, ch, cfg.DocsRoot).Run(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(report); encErr != nil {
		zlog.Error().Err(encErr).Msg("failed to write report")
	}
	if err != nil {
		log.Fatal(err)
	}
	if len(report.Failed) > 0 {
		os.Exit(1)
	}
}
