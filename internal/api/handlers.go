package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaychat/relay/internal/server"
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Rooms     int       `json:"rooms"`
	Users     int       `json:"users"`
}

func (a *RelayApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Printf("json encode: %v", err)
	}
}

func (a *RelayApp) health(w http.ResponseWriter, r *http.Request) {
	a.writeJson(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Rooms:     a.rs.RoomCount(),
		Users:     a.rs.UserCount(),
	})
}

func (a *RelayApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(a.allowedOrigins) == 0 {
				return true
			}

			return slices.Contains(a.allowedOrigins, origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(conn, a.rs, a.log)
	a.rs.RegisterClient(client)
	go client.Write()
	go client.Read()
}

// spaHandler serves the static single-page app, falling back to index.html
// for any path that isn't a file so client-side routing works.
type spaHandler struct {
	staticDir string
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(h.staticDir, filepath.Clean("/"+r.URL.Path))

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		http.ServeFile(w, r, filepath.Join(h.staticDir, "index.html"))
		return
	}

	http.ServeFile(w, r, path)
}
