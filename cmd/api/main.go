package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/seanblong/docsearch/internal/ai"
	"github.com/seanblong/docsearch/internal/api"
	"github.com/seanblong/docsearch/internal/auth"
	"github.com/seanblong/docsearch/internal/cache"
	"github.com/seanblong/docsearch/internal/chunker"
	"github.com/seanblong/docsearch/internal/config"
	"github.com/seanblong/docsearch/internal/evaluate"
	"github.com/seanblong/docsearch/internal/ingest"
	"github.com/seanblong/docsearch/internal/search"
	"github.com/seanblong/docsearch/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	flags := pflag.NewFlagSet("docsearch-api", pflag.ExitOnError)

	cfg, err := config.Load("", flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	flags.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	zlog.Logger = logger
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting docsearch api")

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		log.Fatalf("Invalid provider: %v", err)
	}

	auth.InitializeAuth(cfg.Auth.JwtSecret, cfg.Auth.Enabled)
	if auth.IsAuthEnabled() {
		logger.Info().Msg("authentication is ENABLED")
	} else {
		logger.Warn().Msg("authentication is DISABLED - running in open mode")
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	c, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	dim := c.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	queryClient, closeCache, err := cache.Wrap(ctx, c, cache.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL,
	}, cfg.Provider+"/"+clientConfig.EmbedModel)
	if err != nil {
		log.Fatalf("Failed to set up embedding cache: %v", err)
	}
	defer closeCache()

	svc := search.NewService(queryClient, st, search.Options{
		SearchTopK:        cfg.SearchTopK,
		RerankTopK:        cfg.RerankTopK,
		RerankConcurrency: cfg.RerankConcurrency,
		RerankTimeout:     cfg.RerankTimeout,
		GroupTopN:         cfg.GroupTopN,
	})

	tok, err := chunker.NewTiktoken(cfg.Tokenizer)
	if err != nil {
		log.Fatalf("Failed to load tokenizer: %v", err)
	}
	ch, err := chunker.New(tok, cfg.ChunkWindow, cfg.ChunkOverlap)
	if err != nil {
		log.Fatalf("Invalid chunk settings: %v", err)
	}
	ix := ingest.New(st, c, ch, cfg.DocsRoot)

	gt, err := evaluate.LoadGroundTruth(cfg.GroundTruth)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn().Str("path", cfg.GroundTruth).Msg("ground truth file not found, /evaluate-ground-truth disabled")
	case err != nil:
		log.Fatalf("Failed to load ground truth: %v", err)
	default:
		logger.Info().Int("queries", len(gt)).Msg("ground truth loaded")
	}

	server := &api.Server{
		Search:      svc,
		Ingest:      ix,
		Files:       st,
		Retriever:   evaluate.ServiceRetriever{Service: svc},
		GroundTruth: gt,
		ResultsPath: cfg.EvaluationResults,
	}

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: server.Handler(logger)}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}
