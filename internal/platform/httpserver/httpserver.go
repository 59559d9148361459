package httpserver

import (
	"net/http"
	"time"
)

// New wraps a handler in an http.Server with the timeouts the governance
// API runs with. ReadHeaderTimeout keeps slow-header clients from pinning
// connections open.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
