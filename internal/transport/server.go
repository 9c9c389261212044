package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/orderflow-engine/internal/observ"
)

// NewServer wires the client fan-out and observability endpoints.
// Admin mutation endpoints are deliberately absent.
func NewServer(addr string, hub *Hub, met *observ.Metrics, health observ.HealthProvider, log zerolog.Logger) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/ws", hub.HandleWS)
	r.Handle("/metrics", promhttp.HandlerFor(met.Registry(), promhttp.HandlerOpts{}))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		snap := health()
		w.Header().Set("Content-Type", "application/json")
		if snap.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			log.Error().Err(err).Msg("encode health snapshot")
		}
	})

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
