package serve

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ListenAndServe runs the given server until ctx is cancelled, at which point it is
// shut down gracefully with a bounded timeout.
func ListenAndServe(ctx context.Context, server *http.Server) error {
	if server == nil {
		return errors.New("server is nil")
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Errorf("failed to shut down server listening on %s", server.Addr)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.WithMessagef(err, "error serving on %s", server.Addr)
	}
	return nil
}
