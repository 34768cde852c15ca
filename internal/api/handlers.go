package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/messaging"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/go-chi/chi/v5"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "bbta"}))
}

// twilioWebhookHandler handles Twilio inbound message webhooks. A failed turn
// answers 500 so that Twilio redelivers; duplicates and rate-limited
// messages are acknowledged.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	ev, err := s.opts.Twilio.ParseWebhook(r, s.publicURL(r))
	switch {
	case errors.Is(err, messaging.ErrInvalidSignature):
		slog.Warn("Server.twilioWebhookHandler: rejected unsigned webhook", "remote", r.RemoteAddr)
		writeJSONResponse(w, http.StatusForbidden, models.Error("invalid signature"))
		return
	case err != nil:
		slog.Warn("Server.twilioWebhookHandler: malformed webhook", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	res := s.gateway.Process(r.Context(), ev)
	if !res.Success {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}
	writeTwiMLAck(w, http.StatusOK)
}

// eventsHandler accepts a transport-neutral JSON event.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	var ev models.InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		slog.Warn("Server.eventsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := ev.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	res := s.gateway.Process(r.Context(), ev)
	if !res.Success {
		writeJSONResponse(w, http.StatusInternalServerError, models.NewAPIResponseBuilder().
			WithStatus(models.APIStatusError).
			WithMessage("Failed to process message").
			WithResult(res).
			Build())
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

func (s *Server) invalidateTenantHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(chi.URLParam(r, "tenantID"))
	if tenantID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("tenant id is required"))
		return
	}
	removed := s.tenants.Invalidate(tenantID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Tenant cache invalidated", map[string]int{"removed": removed}))
}

func (s *Server) clearTenantCacheHandler(w http.ResponseWriter, r *http.Request) {
	s.tenants.Clear()
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Tenant cache cleared", nil))
}

// publicURL is the URL Twilio signed: the configured public base plus the
// request path, or the URL as seen by the server.
func (s *Server) publicURL(r *http.Request) string {
	if s.opts.PublicURL != "" {
		return strings.TrimSuffix(s.opts.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
