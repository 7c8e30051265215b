package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aifa/directorio/internal/config"
	"github.com/aifa/directorio/internal/database"
	"github.com/aifa/directorio/internal/directory"
	"github.com/aifa/directorio/internal/gotrue"
	"github.com/aifa/directorio/internal/handler"
	"github.com/aifa/directorio/internal/metrics"
	"github.com/aifa/directorio/internal/model"
	"github.com/aifa/directorio/internal/repository"
	"github.com/aifa/directorio/internal/security"
	"github.com/aifa/directorio/internal/session"
)

const shutdownTimeout = 30 * time.Second

// runtime はコマンドが共有する依存関係一式。
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sql.DB
	auth      *gotrue.Auth
	session   *session.Manager
	directory *directory.Service
	registry  *prometheus.Registry
	collector *metrics.Collector

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	servers []*http.Server
}

// newRuntime はDB接続を開き、全依存関係をワイヤリングする。
// DBへの接続確認は行わない（到達できない場合はセッション検証が通信障害として報告する）。
func newRuntime(cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. 認証サービス
	client := gotrue.NewClient(
		&http.Client{Timeout: cfg.HTTPTimeout},
		logger,
		gotrue.ClientConfig{
			BaseURL:       cfg.SupabaseURL,
			AnonKey:       cfg.SupabaseAnonKey,
			RatePerMinute: cfg.AuthRateLimit,
		},
	)
	auth := gotrue.NewAuth(client, gotrue.NewFileStore(cfg.SessionFile), logger, gotrue.AuthConfig{
		AutoRefresh:   cfg.AutoRefreshToken,
		RefreshMargin: cfg.RefreshMargin,
	})

	// 4. リポジトリとサービス
	profileRepo := repository.NewPostgresProfileRepo(db)
	entryRepo := repository.NewPostgresDirectoryRepo(db)
	areaRepo := repository.NewPostgresAreaRepo(db)

	manager := session.New(newBackendAdapter(auth, profileRepo), session.Options{
		Debounce: cfg.ReactivationDebounce,
		Logger:   logger,
		Metrics:  collector,
	})
	dirService := directory.NewService(entryRepo, areaRepo, security.NewTextSanitizer(), logger, cfg.AllowedEmailDomain)

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		auth:      auth,
		session:   manager,
		directory: dirService,
		registry:  registry,
		collector: collector,
	}, nil
}

// start はバックグラウンド処理（トークンの自動更新、イベントの集計、運用エンドポイント）を開始する。
// 返されるcontextはCloseでキャンセルされる。
func (rt *runtime) start(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	rt.cancel = cancel

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		rt.auth.Run(ctx)
	}()

	events, unsubscribe := rt.auth.Subscribe()
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		countSessionEvents(events, rt.collector)
	}()
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()

	if rt.cfg.MetricsAddr != "" {
		rt.serveOps(rt.cfg.MetricsAddr)
	}
	return ctx
}

type sessionEventRecorder interface {
	RecordSessionEvent(kind string)
}

// countSessionEvents はチャネルがクローズされるまでセッション変化を種類別に数える。
func countSessionEvents(events <-chan model.SessionEvent, recorder sessionEventRecorder) {
	for ev := range events {
		recorder.RecordSessionEvent(string(ev.Kind))
	}
}

// serveOps は/healthと/metricsを提供するHTTPサーバーを起動する。
func (rt *runtime) serveOps(addr string) {
	server := &http.Server{
		Addr: addr,
		Handler: handler.NewOpsRouter(handler.OpsDeps{
			HealthChecker: rt.db,
			Session:       rt.session,
			Gatherer:      rt.registry,
			Logger:        rt.logger,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	rt.servers = append(rt.servers, server)

	go func() {
		rt.logger.Info("ops server starting", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("ops server listen error", slog.String("error", err.Error()))
		}
	}()
}

// Close はバックグラウンド処理を止め、DB接続を閉じる。
func (rt *runtime) Close() {
	rt.session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, server := range rt.servers {
		if err := server.Shutdown(ctx); err != nil {
			rt.logger.Warn("ops server shutdown failed", slog.String("error", err.Error()))
		}
	}

	if rt.cancel != nil {
		rt.cancel()
	}
	rt.wg.Wait()

	if err := rt.db.Close(); err != nil {
		rt.logger.Warn("failed to close database", slog.String("error", err.Error()))
	}
}
