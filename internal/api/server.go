package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/relaychat/relay/internal/config"
	"github.com/relaychat/relay/internal/server"
)

// RelayApp is the HTTP surface around the relay: the websocket endpoint,
// the health check, and the static single-page app with a catch-all route.
type RelayApp struct {
	log            *log.Logger
	srv            *http.Server
	rs             *server.RelayServer
	allowedOrigins []string
}

func NewRelayApp(mux *http.ServeMux, logger *log.Logger, rs *server.RelayServer, cfg *config.Config) *RelayApp {
	a := &RelayApp{
		log:            logger,
		rs:             rs,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /health", a.health)
	mux.HandleFunc("GET /ws", a.serveWs)
	mux.Handle("/", spaHandler{staticDir: cfg.StaticDir})

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(corsOrigins(cfg.AllowedOrigins)),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)(mux)

	h = a.errorHandler(h)

	a.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return a
}

// corsOrigins falls back to a wildcard when no origins are configured,
// matching the relay's default open CORS policy.
func corsOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func (a *RelayApp) Start() error {
	a.log.Printf("starting server on %s\n", a.srv.Addr)
	return a.srv.ListenAndServe()
}

func (a *RelayApp) Shutdown(ctx context.Context) error {
	a.log.Println("shutting down HTTP server...")
	if err := a.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
