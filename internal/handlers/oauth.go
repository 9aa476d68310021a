package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"social-oauth/internal/broker"
	"social-oauth/internal/common/errors"
	"social-oauth/internal/common/logging"
	"social-oauth/internal/tokens"
)

// InitRequest starts an authorization flow for a user.
type InitRequest struct {
	UserID    string   `json:"user_id"`
	ReturnURL string   `json:"return_url"`
	Scopes    []string `json:"scopes,omitempty"`
}

// InitResponse carries the provider page(s) the user must visit. Twitter
// returns both flow URLs; the caller decides which legs to walk.
type InitResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	OAuth1URL        string `json:"oauth1_url,omitempty"`
	State            string `json:"state"`
}

// TokenResponse is the credential payload handed to internal callers.
type TokenResponse struct {
	UserID   string                    `json:"user_id"`
	Platform string                    `json:"platform"`
	OAuth2   *tokens.OAuth2Credentials `json:"oauth2,omitempty"`
	OAuth1   *tokens.OAuth1Credentials `json:"oauth1,omitempty"`
}

func platformFromRequest(r *http.Request) (tokens.Platform, error) {
	return tokens.ParsePlatform(mux.Vars(r)["platform"])
}

// InitOAuth returns authorization URLs and the state parameter for a user.
func (h *Handlers) InitOAuth(w http.ResponseWriter, r *http.Request) {
	p, err := platformFromRequest(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	var req InitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, r, errors.ValidationError("invalid request body"))
		return
	}
	if req.UserID == "" {
		h.sendError(w, r, errors.ValidationError("user_id is required"))
		return
	}
	if req.ReturnURL == "" {
		h.sendError(w, r, errors.ValidationError("return_url is required"))
		return
	}
	if _, err := url.ParseRequestURI(req.ReturnURL); err != nil {
		h.sendError(w, r, errors.ValidationError("return_url must be a valid URL"))
		return
	}

	result, err := h.broker.Init(r.Context(), p, req.UserID, req.ReturnURL, req.Scopes)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	h.sendJSONResponse(w, http.StatusOK, InitResponse{
		AuthorizationURL: result.AuthorizationURL,
		OAuth1URL:        result.OAuth1URL,
		State:            result.State,
	})
}

// OAuthCallback receives the provider redirect, completes the exchange and
// sends the user's browser back to the frontend. Errors before the state is
// decoded cannot know the frontend URL and surface as JSON.
func (h *Handlers) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	p, err := platformFromRequest(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	q := r.URL.Query()
	if provErr := q.Get("error"); provErr != "" {
		// The user denied the grant or the provider rejected the request
		// before issuing a code. Nothing to exchange.
		h.logger.Warn("authorization denied at provider",
			logging.String("platform", string(p)),
			logging.String("provider_error", provErr))
		h.sendError(w, r, errors.AuthError("authorization was denied"))
		return
	}

	in := broker.CallbackInput{
		State:          q.Get("state"),
		Code:           q.Get("code"),
		OAuth1Token:    q.Get("oauth_token"),
		OAuth1Verifier: q.Get("oauth_verifier"),
	}
	if in.State == "" && in.OAuth1Token == "" {
		h.sendError(w, r, errors.ValidationError("missing state parameter"))
		return
	}

	result, err := h.broker.Complete(r.Context(), p, in)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	redirect, err := url.Parse(result.FrontendCallbackURL)
	if err != nil {
		h.sendError(w, r, errors.InternalError("stored frontend callback URL is invalid", err))
		return
	}
	params := redirect.Query()
	params.Set("status", "success")
	params.Set("platform", string(p))
	redirect.RawQuery = params.Encode()

	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

// GetToken returns a valid credential set, refreshing behind the scenes when
// needed. A 404 means the user must (re-)authorize.
func (h *Handlers) GetToken(w http.ResponseWriter, r *http.Request) {
	p, err := platformFromRequest(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.sendError(w, r, errors.ValidationError("user_id query parameter is required"))
		return
	}

	record, err := h.broker.GetValid(r.Context(), p, userID, r.Header.Get("x-api-key"))
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	if record == nil {
		h.sendError(w, r, errors.NotFoundError("valid token"))
		return
	}

	h.sendJSONResponse(w, http.StatusOK, TokenResponse{
		UserID:   record.UserID,
		Platform: string(record.Platform),
		OAuth2:   record.OAuth2,
		OAuth1:   record.OAuth1,
	})
}

// RevokeToken deletes the stored credentials for a user. Idempotent.
func (h *Handlers) RevokeToken(w http.ResponseWriter, r *http.Request) {
	p, err := platformFromRequest(r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		h.sendError(w, r, errors.ValidationError("user_id is required"))
		return
	}

	if err := h.broker.Revoke(r.Context(), p, req.UserID); err != nil {
		h.sendError(w, r, err)
		return
	}
	h.sendJSONResponse(w, http.StatusOK, map[string]bool{"revoked": true})
}
