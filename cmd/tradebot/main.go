package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradebot-v1/config"
	"tradebot-v1/internal/api"
	"tradebot-v1/internal/breaker"
	"tradebot-v1/internal/exchange"
	"tradebot-v1/internal/exchange/binance"
	"tradebot-v1/internal/exchange/bingx"
	"tradebot-v1/internal/execution"
	"tradebot-v1/internal/indicator"
	"tradebot-v1/internal/logger"
	"tradebot-v1/internal/metrics"
	"tradebot-v1/internal/model"
	"tradebot-v1/internal/notification"
	"tradebot-v1/internal/portfolio"
	"tradebot-v1/internal/scheduler"
	"tradebot-v1/internal/state"
	"tradebot-v1/internal/store/influx"
	redisstore "tradebot-v1/internal/store/redis"
	"tradebot-v1/internal/strategy"
	"tradebot-v1/internal/trace"
	"tradebot-v1/internal/tradelog"
)

const (
	serviceName     = "tradebot"
	version         = "1.0.0"
	shutdownTimeout = 10 * time.Second
	livenessEvery   = 15 * time.Second
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "[tradebot] %v\n", err)
		os.Exit(1)
	}

	log := logger.Init(serviceName, logger.ParseLevel(cfg.LogLevel))
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("tradebot stopped", zap.Error(err))
	}
	log.Info("tradebot stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	shutdownTrace, err := trace.Init(ctx, trace.Config{
		Enabled: cfg.TracingEnabled,
		Service: serviceName,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTrace(sctx); err != nil {
			log.Warn("trace shutdown", zap.Error(err))
		}
	}()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus(cfg.Exchange)

	// Exchange gateway behind timeout + breaker.
	exBreaker := breaker.New("exchange", 5, 30*time.Second)
	exBreaker.OnStateChange = func(name string, from, to breaker.State) {
		m.ObserveBreaker(name, from, to)
		health.SetExchangeOK(to != breaker.StateOpen)
	}
	ex := exchange.NewGuarded(newGateway(cfg, log), exchange.DefaultTimeout, exBreaker, m)

	st := state.NewContainer(cfg.Bot)

	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return fmt.Errorf("sqlite dir: %w", err)
	}
	journal, err := execution.NewJournal(cfg.SQLitePath, log)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	defer journal.Close()

	ledger := portfolio.NewLedger(portfolio.DefaultLedgerCap)
	recent, err := journal.RecentTrades(portfolio.DefaultLedgerCap)
	if err != nil {
		return fmt.Errorf("restore trades: %w", err)
	}
	ledger.Restore(recent)
	for _, rec := range recent {
		st.RecordTrade(rec)
	}
	log.Info("trade history restored", zap.Int("trades", len(recent)))

	files, err := tradelog.Open(cfg.TradeLogPath, cfg.ErrorLogPath)
	if err != nil {
		return fmt.Errorf("trade log: %w", err)
	}
	defer files.Close()

	hub := api.NewHub(m, log)
	defer hub.Close()

	sinks := []execution.TradeSink{journal, files, hub}
	events := []scheduler.EventSink{hub}
	recoveries := []scheduler.RecoveryRecorder{journal, files}
	var signals []scheduler.SignalRecorder

	if cfg.Influx.URL != "" {
		rec, err := influx.New(ctx, influx.Config{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		}, log)
		if err != nil {
			log.Warn("influx disabled", zap.Error(err))
		} else {
			defer rec.Close()
			sinks = append(sinks, rec)
			signals = append(signals, rec)
		}
	}

	var (
		store *redisstore.Store
		rdb   *goredis.Client
	)
	if cfg.Redis.Addr != "" {
		health.SetRedisEnabled(true)
		store, err = redisstore.New(redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, log)
		if err != nil {
			log.Warn("redis unavailable, running without settings persistence", zap.Error(err))
			store = nil
		}
	}
	if store != nil {
		defer store.Close()
		rdb = store.Client()
		restoreSettings(ctx, store, st, log)

		pubBreaker := breaker.New("redis", 3, 10*time.Second)
		pubBreaker.OnStateChange = m.ObserveBreaker
		pub := redisstore.NewPublisher(store, pubBreaker, 0, log)
		pub.OnBuffer = m.PublishFailures.Inc
		sinks = append(sinks, pub)
		events = append(events, pub)
	}
	health.StartLivenessChecker(ctx, rdb, journal.DB(), livenessEvery)

	backends := execution.Backends{Demo: execution.NewDemoLedger(demoSeed(cfg), log)}
	if key, secret := cfg.Credentials(); key != "" && secret != "" {
		backends.Real = execution.NewLive(ex, log)
	} else {
		log.Info("no exchange credentials, real mode unavailable")
	}
	machine := execution.NewMachine(ex, backends, ledger, st, log, sinks...)

	agg, err := strategy.NewAggregator(strategy.DefaultWeights())
	if err != nil {
		return fmt.Errorf("aggregator: %w", err)
	}

	coord := scheduler.NewCoordinator(scheduler.Deps{
		Market:     ex,
		Trading:    ex,
		Machine:    machine,
		Ledger:     ledger,
		State:      st,
		Aggregator: agg,
		Params:     indicator.DefaultParams(),
		Drawdown:   portfolio.NewDrawdownGuard(cfg.Bot.MaxDrawdownPct),
		Metrics:    m,
		Health:     health,
		Notifier:   newNotifier(cfg, log),
		Events:     events,
		Recoveries: recoveries,
		Signals:    signals,
	}, log)
	sched := scheduler.New(coord, st, log)

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, log)
	metricsSrv.Start()

	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Deps{
			Status:   coord,
			Trigger:  sched,
			Settings: st,
			Hub:      hub,
		}, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s := st.Settings()
	log.Info("tradebot starting",
		zap.String("exchange", cfg.Exchange),
		zap.String("mode", string(s.Mode())),
		zap.Strings("watchlist", s.Watchlist),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Bool("redis", store != nil),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("api listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	if store != nil {
		g.Go(func() error {
			err := store.RunSettingsCommands(gctx, func(p state.SettingsPatch) error {
				_, err := st.ApplySettingsPatch(p)
				return err
			})
			if err != nil {
				log.Warn("settings commands unavailable", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		hub.Close()
		metricsSrv.Stop(sctx)
		return httpSrv.Shutdown(sctx)
	})

	return g.Wait()
}

func newGateway(cfg *config.Config, log *zap.Logger) model.Exchange {
	if cfg.Exchange == config.ExchangeBinance {
		return binance.New(binance.Config{
			APIKey:    cfg.Binance.APIKey,
			SecretKey: cfg.Binance.SecretKey,
			Testnet:   cfg.Binance.Testnet,
		}, log)
	}
	return bingx.New(bingx.Config{
		APIKey:    cfg.BingX.APIKey,
		SecretKey: cfg.BingX.SecretKey,
		BaseURL:   cfg.BingX.BaseURL,
	}, log)
}

func newNotifier(cfg *config.Config, log *zap.Logger) notification.Notifier {
	n := notification.Multi{notification.NewLogNotifier(log)}
	if cfg.Telegram.BotToken != "" {
		n = append(n, notification.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, log))
	}
	if cfg.WebhookURL != "" {
		n = append(n, notification.NewWebhookNotifier(cfg.WebhookURL, log))
	}
	return n
}

func demoSeed(cfg *config.Config) map[string]float64 {
	if len(cfg.DemoBalances) > 0 {
		return cfg.DemoBalances
	}
	return execution.DefaultDemoBalances()
}

// restoreSettings prefers the persisted settings over the config seed and
// keeps the persisted copy current.
func restoreSettings(ctx context.Context, store *redisstore.Store, st *state.Container, log *zap.Logger) {
	saved, ok, err := store.LoadSettings(ctx)
	switch {
	case err != nil:
		log.Warn("load persisted settings", zap.Error(err))
	case ok:
		if err := st.ReplaceSettings(saved); err != nil {
			log.Warn("persisted settings rejected, using config", zap.Error(err))
		} else {
			log.Info("persisted settings restored")
		}
	}

	st.OnSettingsChange(func(s state.BotSettings) {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.SaveSettings(sctx, s); err != nil {
			log.Warn("persist settings", zap.Error(err))
		}
	})
	if !ok {
		if err := store.SaveSettings(ctx, st.Settings()); err != nil {
			log.Warn("persist settings", zap.Error(err))
		}
	}
}
