package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"trader-agent/internal/admin"
	"trader-agent/internal/broker"
	"trader-agent/internal/cache"
	"trader-agent/internal/config"
	"trader-agent/internal/ledger"
	"trader-agent/internal/llm"
	"trader-agent/internal/logger"
	"trader-agent/internal/marketdata"
	"trader-agent/internal/notify"
	"trader-agent/internal/pipeline"
	"trader-agent/internal/ratelimit"
	"trader-agent/internal/scheduler"
	"trader-agent/internal/semantic"
	"trader-agent/internal/store"
	"trader-agent/internal/trace"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	_ = godotenv.Load()

	must(logger.Init())
	must(trace.Init())

	cfg, err := config.LoadConfig("config.yaml")
	must(err)
	creds := config.LoadCredentials()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.Store.Path, cfg.Store.HistoryRetention)
	must(err)
	defer st.Close()

	// An explicit config or TICKERS list wins; with only the built-in
	// default, a previously stored list survives the restart.
	instruments := cfg.Instruments
	if cfg.InstrumentsDefaulted {
		if stored, err := st.Instruments(ctx); err == nil && len(stored) > 0 {
			instruments = stored
		}
	}
	must(st.SaveInstruments(ctx, instruments))

	led := ledger.New(st.DB(), cfg.Budget.MaxActionsPerDay)
	dataCache := cache.New()
	limiter := ratelimit.New(time.Duration(cfg.RateLimit.WindowSeconds)*time.Second, cfg.RateLimit.PerProvider)

	var brk broker.Broker
	var providers []marketdata.Provider
	if cfg.Mode == "LIVE" {
		brk = broker.NewAlpaca(broker.AlpacaParams{
			APIKey:      creds.AlpacaKey,
			SecretKey:   creds.AlpacaSecret,
			BaseURL:     cfg.Broker.BaseURL,
			DataBaseURL: cfg.Broker.DataBaseURL,
		})
		providers = append(providers,
			marketdata.NewAlpacaProvider(creds.AlpacaKey, creds.AlpacaSecret, cfg.Broker.DataBaseURL))
	} else {
		logger.Info(ctx, "DRY_RUN mode, orders are simulated")
		brk = broker.NewDryRun()
	}
	providers = append(providers, marketdata.NewYahooProvider())

	chain := marketdata.NewChain(providers, limiter, dataCache,
		time.Duration(cfg.Cache.CandlesTTLSeconds)*time.Second,
		time.Duration(cfg.Cache.PriceTTLSeconds)*time.Second)

	var sem semantic.Store = semantic.Noop{}
	if cfg.Semantic.BaseURL != "" {
		sem = semantic.NewClient(cfg.Semantic.BaseURL)
	}

	var engine llm.Client
	if cfg.LLM.Provider == "OPENAI" && creds.OpenAIKey != "" {
		engine, err = llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:            creds.OpenAIKey,
			Model:             cfg.LLM.Model,
			MaxTokens:         cfg.LLM.MaxTokens,
			Temperature:       cfg.LLM.Temperature,
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		})
		must(err)
	} else {
		logger.Warn(ctx, "No analysis engine configured, decisions default to HOLD")
		engine = llm.NewNoop()
	}

	var notifier notify.Notifier = notify.Noop{}
	if creds.DiscordWebhook != "" {
		notifier = notify.NewDiscord(creds.DiscordWebhook)
	}

	pipe := pipeline.New(
		pipeline.Params{
			AnalysisTimeout: time.Duration(cfg.Schedule.AnalysisTimeoutSeconds) * time.Second,
			NewsCollection:  cfg.Semantic.NewsCollection,
			ChartCollection: cfg.Semantic.ChartCollection,
			TopK:            cfg.Semantic.TopK,
			DefaultQty:      cfg.Order.DefaultQty,
			MaxQty:          cfg.Order.MaxQty,
			AccountTTL:      time.Duration(cfg.Cache.AccountTTLSeconds) * time.Second,
			PositionsTTL:    time.Duration(cfg.Cache.PositionsTTLSeconds) * time.Second,
		},
		sem, chain, brk, engine, led, st, notifier, dataCache,
	)

	sched := scheduler.New(
		time.Duration(cfg.Schedule.RunIntervalSeconds)*time.Second,
		func(ctx context.Context, symbol string) error {
			_, err := pipe.Run(ctx, symbol)
			return err
		},
	)
	for _, sym := range instruments {
		must(sched.Start(ctx, sym))
	}

	adminSrv := admin.NewServer(cfg.Admin.Addr, cfg.Mode, instruments, sched, st, led)
	go func() {
		if err := adminSrv.Start(); err != nil {
			logger.ErrorWithErr(ctx, "Admin server failed", err)
		}
	}()

	logger.Info(ctx, "Agent started",
		"mode", cfg.Mode,
		"instruments", instruments,
		"interval_seconds", cfg.Schedule.RunIntervalSeconds,
		"max_actions_per_day", cfg.Budget.MaxActionsPerDay)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	logger.Info(ctx, "Shutting down, waiting for in-flight runs")
	sched.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr(shutdownCtx, "Admin shutdown failed", err)
	}
	if err := trace.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr(shutdownCtx, "Trace shutdown failed", err)
	}
}
