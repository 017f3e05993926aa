package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/seanblong/docsearch/internal/ai"
	"github.com/seanblong/docsearch/internal/cache"
	"github.com/seanblong/docsearch/internal/config"
	"github.com/seanblong/docsearch/internal/evaluate"
	"github.com/seanblong/docsearch/internal/search"
	"github.com/seanblong/docsearch/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("docsearch-evaluate", pflag.ExitOnError)
	apiURL := fs.String("api-url", "", "Evaluate against a running API instead of in-process")
	token := fs.String("token", "", "Bearer token for --api-url")

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

	gt, err := evaluate.LoadGroundTruth(cfg.GroundTruth)
	if err != nil {
		log.Fatalf("Failed to load ground truth: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var retriever evaluate.Retriever
	if *apiURL != "" {
		zlog.Info().Str("api", *apiURL).Int("queries", len(gt)).Msg("evaluating against api")
		retriever = evaluate.NewHTTPRetriever(*apiURL, *token)
	} else {
		clientConfig, err := cfg.ClientConfig()
		if err != nil {
			log.Fatalf("Invalid provider: %v", err)
		}
		st, err := store.New(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer st.Close()

		c, err := ai.NewClient(ctx, clientConfig)
		if err != nil {
			log.Fatalf("Failed to create AI client: %v", err)
		}
		qc, closeCache, err := cache.Wrap(ctx, c, cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		}, cfg.Provider+"/"+clientConfig.EmbedModel)
		if err != nil {
			log.Fatalf("Failed to set up embedding cache: %v", err)
		}
		defer closeCache()

		svc := search.NewService(qc, st, search.Options{
			SearchTopK:        cfg.SearchTopK,
			RerankTopK:        cfg.RerankTopK,
			RerankConcurrency: cfg.RerankConcurrency,
			RerankTimeout:     cfg.RerankTimeout,
			GroupTopN:         cfg.GroupTopN,
		})
		zlog.Info().Int("queries", len(gt)).Msg("evaluating in-process")
		retriever = evaluate.ServiceRetriever{Service: svc}
	}

	report, err := evaluate.New(gt, retriever).Evaluate(ctx)
	if err != nil {
		log.Fatal(err)
	}

	for mode, s := range report.Summary {
		zlog.Info().
			Str("mode", string(mode)).
			Float64("avg_precision", s.AvgPrecision).
			Float64("avg_recall", s.AvgRecall).
			Float64("avg_f1_score", s.AvgF1).
			Int("evaluated", s.Evaluated).
			Int("failed", s.Failed).
			Msg("evaluation summary")
	}

	if err := evaluate.SaveReport(cfg.EvaluationResults, report); err != nil {
		log.Fatalf("Failed to write report: %v", err)
	}
	zlog.Info().Str("path", cfg.EvaluationResults).Msg("report written")
}
