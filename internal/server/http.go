package server

import (
	"fmt"
	"net/http"

	"github.com/rs/cors"

	"github.com/driftchat/driftchat/internal/config"
)

// StartHTTPServer boots the HTTP server with CORS enabled and blocks until
// it fails or the process exits.
func StartHTTPServer(cfg *config.Config, handler *Handler) error {
	addr := fmt.Sprintf("%s:%s", cfg.HTTP.Host, cfg.HTTP.Port)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(handler.Router())

	return http.ListenAndServe(addr, corsHandler)
}
