package observability

import (
	"net/http"
	"sync/atomic"
)

// Health tracks process liveness and readiness. The process is live as soon
// as it starts; it becomes ready after recovery finishes and the ingestion
// loop is attached, and drops back to not-ready during shutdown.
type Health struct {
	ready atomic.Bool
}

func NewHealth() *Health {
	return &Health{}
}

func (h *Health) SetReady(v bool) {
	h.ready.Store(v)
}

func (h *Health) Ready() bool {
	return h.ready.Load()
}

// LiveHandler always reports ok while the process can serve HTTP at all.
func (h *Health) LiveHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadyHandler reports 503 until the engine is recovered and ingesting.
func (h *Health) ReadyHandler(w http.ResponseWriter, _ *http.Request) {
	if !h.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
