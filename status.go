package miphkb

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/brutella/hap/log"

	// same router hap uses
	"github.com/go-chi/chi"
)

// Status is the JSON snapshot served at /status
type Status struct {
	Name        string   `json:"name"`
	IP          string   `json:"ip"`
	Bound       bool     `json:"bound"`
	Attempts    int      `json:"attempts"`
	Model       string   `json:"model,omitempty"`
	Mode        string   `json:"mode,omitempty"`
	AQI         *float64 `json:"aqi,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
}

// Status reports discovery progress and the mirrored values; it does no device I/O
func (p *Purifier) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Status{
		Name:        p.conf.Name,
		IP:          p.conf.IP,
		Bound:       p.device != nil,
		Attempts:    p.attempts,
		Mode:        p.mirror.mode,
		AQI:         p.mirror.aqi,
		Temperature: p.mirror.temperature,
		Humidity:    p.mirror.humidity,
	}
	if p.device != nil {
		s.Model = p.device.Model()
	}
	return s
}

// StatusHandler routes GET / and GET /status
func (p *Purifier) StatusHandler() http.Handler {
	router := chi.NewRouter()
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Mi Air Purifier HomeKit Bridge"))
	})
	router.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(p.Status()); err != nil {
			log.Info.Printf("status: %s", err.Error())
		}
	})
	return router
}

// StatusServer serves StatusHandler on addr until ctx is done
func (p *Purifier) StatusServer(ctx context.Context, addr string) {
	srv := &http.Server{
		Handler:      p.StatusHandler(),
		Addr:         addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	log.Info.Printf("starting http service at %s", addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Info.Printf("http service: %s", err.Error())
		}
	}()
	<-ctx.Done()
	log.Info.Printf("stopping http service")
	srv.Shutdown(context.Background())
}
