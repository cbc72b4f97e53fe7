package main

import (
	"context"
	"database/sql"
	"flag"
	"os"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"exchange_compass/internal/adapters/gemini"
	"exchange_compass/internal/adapters/observability"
	redisad "exchange_compass/internal/adapters/redis"
	"exchange_compass/internal/app"
	"exchange_compass/internal/domain"
	"exchange_compass/internal/shared"
	mysqlrepo "exchange_compass/internal/storage/mysql"
)

func main() {
	source := flag.String("source", "survey", "input kind: survey (CSV export) or scrape (JSONL)")
	file := flag.String("file", "", "path to the input file")
	rescore := flag.Int("rescore", 0, "retry classification for up to N unscored rows instead of ingesting")
	flag.Parse()

	ctx := context.Background()
	cfg := shared.Load()

	// initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	log.Info().
		Str("source", *source).
		Str("file", *file).
		Int("workers", cfg.Workers).
		Msg("ingestor starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	if cfg.AutoMigrate {
		if err := mysqlrepo.Migrate(cfg.MySQLDSN); err != nil {
			log.Fatal().Err(err).Msg("migrations failed")
		}
	}

	repo := mysqlrepo.New(db)
	ai, err := gemini.New(cfg.GeminiBase, cfg.GeminiKey, cfg.GeminiModel, cfg.GeminiSummaryModel, cfg.GeminiRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize Gemini client")
	}
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

	scoreCache := app.NewScoreCache(repo, cfg.GeminiModel, cfg.MemoSize, cfg.MemoTTL)
	scorer := app.NewScorer(ai, scoreCache, cfg.ClassifyTimeout)
	ing := app.NewIngestionService(repo, scorer, cache, cfg.Workers, cfg.EnrichSubs)

	if *rescore > 0 {
		n, err := ing.RescoreUnscored(ctx, *rescore)
		if err != nil {
			log.Fatal().Err(err).Msg("rescore failed")
		}
		log.Info().Int("backfilled", n).Msg("rescore completed")
		return
	}

	rows := loadRows(*source, *file)
	if len(rows) == 0 {
		log.Warn().Msg("no input rows, nothing to do")
		return
	}

	report := ing.IngestBatch(ctx, rows)
	log.Info().
		Str("run_id", report.RunID).
		Int("succeeded", report.Succeeded).
		Int("scoring_failed", report.ScoringFailed).
		Int("content_rejected", report.ContentRejected).
		Msg("ingestion completed")
}

// loadRows reads the input file and maps it to raw reviews with the
// source-specific field aliases.
func loadRows(source, path string) []domain.RawReview {
	if path == "" {
		log.Fatal().Msg("-file is required unless -rescore is set")
	}
	f, err := os.Open(path)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("open input failed")
	}
	defer f.Close()

	switch source {
	case "survey":
		recs, err := app.ParseSurveyCSV(f)
		if err != nil {
			log.Fatal().Err(err).Msg("parse survey CSV failed")
		}
		rows := make([]domain.RawReview, 0, len(recs))
		for _, rec := range recs {
			rows = append(rows, app.MapSurveyRow(rec))
		}
		return rows
	case "scrape":
		objs, skipped, err := app.ParseScrapeJSONL(f)
		if err != nil {
			log.Fatal().Err(err).Msg("parse scrape JSONL failed")
		}
		if skipped > 0 {
			log.Warn().Int("skipped", skipped).Msg("unparseable scrape lines dropped")
		}
		rows := make([]domain.RawReview, 0, len(objs))
		for _, obj := range objs {
			rows = append(rows, app.MapScrapeRow(obj))
		}
		return rows
	default:
		log.Fatal().Str("source", source).Msg("unknown -source, want survey or scrape")
		return nil
	}
}
