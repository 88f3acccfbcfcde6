package health

import (
	"net/http"
)

func SetupHttpMux(mux *http.ServeMux, checker Checker) {
	mux.Handle("/healthz/live", &LivenessHandler{})
	mux.Handle("/healthz/ready", NewReadinessHandler(checker))
}
