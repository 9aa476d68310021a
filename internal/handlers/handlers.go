// Package handlers exposes the broker over HTTP. Routes are thin: parse and
// validate the request, call the broker, map typed errors onto status codes.
// Token material only ever appears in response bodies, never in logs.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"social-oauth/internal/broker"
	"social-oauth/internal/common/errors"
	"social-oauth/internal/common/logging"
	"social-oauth/internal/tokens"
)

// Service is the broker surface the HTTP layer needs.
type Service interface {
	Init(ctx context.Context, p tokens.Platform, userID, returnURL string, scopes []string) (*broker.InitResult, error)
	Complete(ctx context.Context, p tokens.Platform, in broker.CallbackInput) (*broker.CompleteResult, error)
	GetValid(ctx context.Context, p tokens.Platform, userID, apiKey string) (*tokens.Record, error)
	Revoke(ctx context.Context, p tokens.Platform, userID string) error
}

// Pinger reports backing-store liveness for the health endpoint.
type Pinger interface {
	Health() error
}

type Handlers struct {
	broker Service
	store  Pinger
	logger logging.Logger
}

func New(b Service, tokenStore Pinger, logger logging.Logger) *Handlers {
	return &Handlers{
		broker: b,
		store:  tokenStore,
		logger: logger.WithFields(logging.Field{Key: "component", Value: "http"}),
	}
}

// RegisterRoutes mounts the OAuth API. authMiddleware guards every route
// except the provider callback, which arrives from the end user's browser
// and authenticates via the state parameter instead.
func (h *Handlers) RegisterRoutes(router *mux.Router, authMiddleware func(http.Handler) http.Handler) {
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.Handle("/oauth/{platform}/callback", http.HandlerFunc(h.OAuthCallback)).Methods(http.MethodGet)

	api := router.PathPrefix("/oauth").Subrouter()
	api.Use(mux.MiddlewareFunc(authMiddleware))
	api.HandleFunc("/{platform}/init", h.InitOAuth).Methods(http.MethodPost)
	api.HandleFunc("/{platform}/token", h.GetToken).Methods(http.MethodGet)
	api.HandleFunc("/{platform}/revoke", h.RevokeToken).Methods(http.MethodPost)
}

func (h *Handlers) sendJSONResponse(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", err)
	}
}

// sendError maps a typed error onto an HTTP status. The response carries the
// error type and a generic message; AppError messages from the provider path
// are already redacted but internal causes are still withheld from clients.
func (h *Handlers) sendError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	message := "internal server error"
	errType := errors.GetType(err)
	if appErr, ok := err.(*errors.AppError); ok && status < http.StatusInternalServerError {
		message = appErr.Message
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", err, logging.String("path", r.URL.Path))
	} else {
		h.logger.Warn("request rejected",
			logging.String("path", r.URL.Path),
			logging.String("error_type", string(errType)))
	}

	h.sendJSONResponse(w, status, map[string]string{
		"error":   string(errType),
		"message": message,
	})
}

func statusForError(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeValidation, errors.ErrTypeInvalidState:
		return http.StatusBadRequest
	case errors.ErrTypeAuth:
		return http.StatusUnauthorized
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeConfig:
		return http.StatusNotImplemented
	case errors.ErrTypeRateLimit:
		return http.StatusTooManyRequests
	case errors.ErrTypeProvider, errors.ErrTypeTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Health reports process and store liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Health(); err != nil {
		h.sendJSONResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	h.sendJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
