package main

import (
	"database/sql"
	"net/http"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"exchange_compass/internal/adapters/gemini"
	server "exchange_compass/internal/adapters/http_server"
	"exchange_compass/internal/adapters/observability"
	redisad "exchange_compass/internal/adapters/redis"
	"exchange_compass/internal/app"
	"exchange_compass/internal/shared"
	mysqlrepo "exchange_compass/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	observability.Serve()

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	if cfg.AutoMigrate {
		if err := mysqlrepo.Migrate(cfg.MySQLDSN); err != nil {
			log.Fatal().Err(err).Msg("migrations failed")
		}
	}

	// deps
	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	ai, err := gemini.New(cfg.GeminiBase, cfg.GeminiKey, cfg.GeminiModel, cfg.GeminiSummaryModel, cfg.GeminiRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize Gemini client")
	}

	scoreCache := app.NewScoreCache(repo, cfg.GeminiModel, cfg.MemoSize, cfg.MemoTTL)
	scorer := app.NewScorer(ai, scoreCache, cfg.ClassifyTimeout)

	q := app.NewQueryService(repo, cache, ai, app.QueryConfig{
		CacheTTL:         cfg.CacheTTL,
		SummaryTTL:       cfg.SummaryTTL,
		SummaryMaxInputs: cfg.SummaryMaxInputs,
		ScrapeWeight:     cfg.ScrapeWeight,
	})
	ing := app.NewIngestionService(repo, scorer, cache, cfg.Workers, cfg.EnrichSubs)
	mod := app.NewModerationService(repo, cache, cfg.AdminToken)

	// http
	srv := server.New()
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{Q: q, Ing: ing, Mod: mod})

	log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux()}

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
}
