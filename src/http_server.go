package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ryansname/chargectl/src/calendar"
	"github.com/ryansname/chargectl/src/tariff"
)

// apiServer serves the read-only status API
type apiServer struct {
	board      *SensorBoard
	classifier *tariff.Classifier
	store      *ConfigStore
	clock      clock.Clock
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warnf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// newRouter builds the API routes. gatherer backs /metrics.
func newRouter(api *apiServer, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", api.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/sensors", api.handleSensors).Methods(http.MethodGet)
	r.HandleFunc("/api/sensors/{key}", api.handleSensor).Methods(http.MethodGet)
	r.HandleFunc("/api/tariff", api.handleTariff).Methods(http.MethodGet)
	r.HandleFunc("/api/holidays", api.handleHolidays).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

func (a *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *apiServer) handleSensors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.board.All())
}

func (a *apiServer) handleSensor(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	value, ok := a.board.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown sensor "+key)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

// handleTariff reports the energy info at ?at=RFC3339, default now
func (a *apiServer) handleTariff(w http.ResponseWriter, r *http.Request) {
	loc := a.store.Get().Location()
	at := a.clock.Now().In(loc)
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "at must be RFC3339")
			return
		}
		at = parsed.In(loc)
	}

	writeJSON(w, http.StatusOK, struct {
		At       string              `json:"at"`
		Energy   tariff.EnergyInfo   `json:"energy"`
		Calendar tariff.CalendarInfo `json:"calendar"`
	}{
		At:       at.Format(time.RFC3339),
		Energy:   a.classifier.EnergyInfoAt(at),
		Calendar: tariff.CalendarInfoAt(at),
	})
}

func (a *apiServer) handleHolidays(w http.ResponseWriter, r *http.Request) {
	loc := a.store.Get().Location()
	year := a.clock.Now().In(loc).Year()
	if raw := r.URL.Query().Get("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1583 || parsed > 9999 {
			writeError(w, http.StatusBadRequest, "year must be a Gregorian year")
			return
		}
		year = parsed
	}

	type holiday struct {
		Date string `json:"date"`
		Name string `json:"name"`
	}
	holidays := calendar.HolidaysForYear(year, loc)
	out := make([]holiday, 0, len(holidays))
	for _, h := range holidays {
		out = append(out, holiday{Date: h.Date.Format(time.DateOnly), Name: h.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

// httpWorker serves handler on addr until ctx is cancelled
func httpWorker(ctx context.Context, addr string, handler http.Handler) {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Infof("HTTP API listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("HTTP server failed: %v", err)
	}
	logger.Info("HTTP API stopped")
}
