// Package httpapi is the S3 wire-protocol collaborator: it parses
// requests, dispatches to the storage core, and serializes responses as
// S3 XML or raw bytes. It owns no persistent state of its own.
package httpapi

import (
	"fmt"
	"net/http"

	"github.com/rs/cors"

	"silo/internal/admission"
	"silo/internal/authn"
	"silo/internal/config"
	"silo/internal/store"
)

// Server wires the storage core to the S3 HTTP surface.
type Server struct {
	cfg       config.Config
	store     *store.Store
	admission *admission.Controller
	auth      authn.Engine
}

func NewServer(cfg config.Config, st *store.Store) *Server {
	accessKey := cfg.AccessKey
	secretKey := cfg.SecretKey
	if accessKey == "" {
		accessKey = "siloadmin"
	}
	if secretKey == "" {
		secretKey = "siloadmin"
	}

	return &Server{
		cfg:       cfg,
		store:     st,
		admission: admission.NewController(cfg.ConcurrencyLimit),
		auth: authn.NewCompoundAuthEngine(
			authn.NewSigV4AuthEngine(accessKey, secretKey),
			authn.NewBasicAuthEngine(accessKey, secretKey),
		),
	}
}

// Handler builds the full middleware chain around the S3 route table.
// From the outside in: panic recovery, CORS (when permissive CORS is
// enabled), slash normalization, logging, authentication, and the
// admission gate innermost, just before routing.
func (s *Server) Handler() http.Handler {
	handler := s.route()
	handler = s.admissionGate(handler)
	handler = s.requireAuthentication(handler)
	handler = logRequest(handler)
	handler = slashFix(handler)

	if s.cfg.PermissiveCORS {
		handler = cors.AllowAll().Handler(handler)
	}

	return recoverer(handler)
}

func quoteETag(etag string) string {
	return fmt.Sprintf("%q", etag)
}
