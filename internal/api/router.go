// Package api serves the dashboard HTTP endpoints and the WebSocket event
// stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tradebot-v1/internal/model"
	"tradebot-v1/internal/scheduler"
	"tradebot-v1/internal/state"
)

// StatusSource builds the status view.
type StatusSource interface {
	Status(ctx context.Context) scheduler.Status
}

// Trigger runs scans and forced trades out of schedule.
type Trigger interface {
	TriggerScanNow(ctx context.Context) scheduler.CycleReport
	TriggerForcedTrade(ctx context.Context, symbol string, side model.Side) (scheduler.TickReport, error)
}

// SettingsUpdater merges partial settings into the live settings.
type SettingsUpdater interface {
	ApplySettingsPatch(p state.SettingsPatch) (state.BotSettings, error)
}

// Deps are the handlers' collaborators.
type Deps struct {
	Status   StatusSource
	Trigger  Trigger
	Settings SettingsUpdater
	Hub      *Hub
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 16

// NewRouter registers the /api/v1 routes.
func NewRouter(d Deps, log *zap.Logger) http.Handler {
	log = log.Named("api")
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Status.Status(r.Context()))
	})

	mux.HandleFunc("POST /api/v1/settings", func(w http.ResponseWriter, r *http.Request) {
		var patch state.SettingsPatch
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		settings, err := d.Settings.ApplySettingsPatch(patch)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, state.ErrConfigInvalid) {
				status = http.StatusBadRequest
			}
			writeError(w, status, err.Error())
			return
		}
		log.Info("settings updated", zap.Bool("enabled", settings.Enabled),
			zap.Bool("demo_mode", settings.DemoMode), zap.Float64("risk_percent", settings.RiskPercent))
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "settings": settings})
	})

	mux.HandleFunc("POST /api/v1/scan", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Trigger.TriggerScanNow(r.Context()))
	})

	mux.HandleFunc("POST /api/v1/force-trade", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Symbol string     `json:"symbol"`
			Side   model.Side `json:"side"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		tick, err := d.Trigger.TriggerForcedTrade(r.Context(), req.Symbol, req.Side)
		switch {
		case errors.Is(err, scheduler.ErrTradingNotAllowed):
			writeError(w, http.StatusConflict, err.Error())
		case err != nil:
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeJSON(w, http.StatusOK, tick)
		}
	})

	mux.HandleFunc("GET /api/v1/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("ws upgrade failed", zap.Error(err))
			return
		}
		lastSeq, _ := strconv.ParseInt(r.URL.Query().Get("last_seq"), 10, 64)
		d.Hub.Register(conn, lastSeq)
	})

	return withCORS(mux)
}

// withCORS sets CORS headers and answers preflight requests.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
