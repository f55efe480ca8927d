package server

import "net/http"

// Mounter registers additional routes. *api.API satisfies it.
type Mounter interface {
	Register(mux *http.ServeMux)
}

// SetupRoutes returns a ServeMux with the banner, health check, WebSocket
// endpoint and test page, plus every route the mounters add.
func SetupRoutes(g *Gateway, mounters ...Mounter) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", RootHandler)
	mux.HandleFunc("GET /health", g.HealthHandler)
	mux.HandleFunc("/ws", g.WebSocketHandler)
	mux.HandleFunc("GET /test", TestPageHandler)
	for _, m := range mounters {
		m.Register(mux)
	}
	return mux
}
