// Package handler は運用向けHTTPエンドポイント（ヘルスチェック、メトリクス）を提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aifa/directorio/internal/metrics"
	"github.com/aifa/directorio/internal/middleware"
	"github.com/aifa/directorio/internal/model"
)

// healthTimeout はヘルスチェック時のDB疎通確認のタイムアウト。
const healthTimeout = 3 * time.Second

// HealthChecker はDBの疎通確認インターフェース。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// SessionReader は現在のセッション状態を返す。nilの場合は/healthに含めない。
type SessionReader interface {
	StateName() string
}

// OpsDeps はNewOpsRouterに必要な依存関係をまとめた構造体。
type OpsDeps struct {
	HealthChecker HealthChecker
	Session       SessionReader
	Gatherer      prometheus.Gatherer
	Logger        *slog.Logger
}

// healthResponse は/healthの応答。
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Session  string `json:"session,omitempty"`
}

// NewOpsRouter は/healthと/metricsを提供するchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders
func NewOpsRouter(deps OpsDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	r.Get("/health", healthHandler(deps))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	return r
}

func healthHandler(deps OpsDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Database: "ok"}
		if deps.Session != nil {
			resp.Session = deps.Session.StateName()
		}

		if deps.HealthChecker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := deps.HealthChecker.PingContext(ctx); err != nil {
				middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
					Code:     "DATABASE_UNAVAILABLE",
					Message:  err.Error(),
					Category: "system",
					Action:   "Verifica la conexión con la base de datos.",
				})
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
