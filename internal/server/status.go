package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// serveStatus runs the debug HTTP listener exposing the dispatcher's
// counters. It shuts down with the dispatcher context.
func (d *Dispatcher) serveStatus(ctx context.Context) {
	router := mux.NewRouter()
	router.HandleFunc("/status", d.handleStatus).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         d.cfg.StatusAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	d.logger.Infof("%s status endpoint on http://%s/status", d.cfg.Name, d.cfg.StatusAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		d.logger.Errorf("status listener error: %v", err)
	}
}

func (d *Dispatcher) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp := struct {
		Server string   `json:"server"`
		Addr   string   `json:"addr"`
		Stats  Snapshot `json:"stats"`
	}{
		Server: d.cfg.Name,
		Addr:   d.conn.LocalAddr().String(),
		Stats:  d.stats.Snapshot(),
	}
	json.NewEncoder(w).Encode(resp)
}
