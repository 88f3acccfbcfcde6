package health

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

// LivenessHandler reports healthy for as long as the process is able to answer at all.
type LivenessHandler struct{}

func (h *LivenessHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Errorf("Failed to write liveness response: %v", err)
	}
}

// ReadinessHandler reports healthy only when the supplied checker passes; failures
// are returned as a plain text list of the unhealthy subsystems.
type ReadinessHandler struct {
	checker Checker
}

func NewReadinessHandler(checker Checker) *ReadinessHandler {
	return &ReadinessHandler{
		checker: checker,
	}
}

func (h *ReadinessHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	err := h.checker.Check()
	if err == nil {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Ready")); err != nil {
			log.Errorf("Failed to write readiness response: %v", err)
		}
		return
	}

	log.Warnf("Readiness check failed: %v", err)
	w.WriteHeader(http.StatusServiceUnavailable)
	if _, err := w.Write([]byte("Not Ready: " + err.Error())); err != nil {
		log.Errorf("Failed to write readiness response: %v", err)
	}
}
