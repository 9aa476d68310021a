// Package platform implements the per-provider OAuth clients. Each client
// produces authorization URLs, exchanges callback codes for credentials, and
// refreshes credentials against its provider's endpoints, normalizing every
// result into a tokens.Record fragment and every failure into a typed error
// with secrets redacted.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"social-oauth/internal/common/errors"
	"social-oauth/internal/common/logging"
	"social-oauth/internal/tokens"
)

// Config holds one provider application's registered credentials.
// ConsumerKey/ConsumerSecret are the classic-flow app credentials for
// providers that register OAuth 1.0a apps separately; when empty the
// OAuth2 client pair is used for both flows.
type Config struct {
	ClientID       string
	ClientSecret   string
	ConsumerKey    string
	ConsumerSecret string
	CallbackURL    string
}

func (c Config) consumerPair() (string, string) {
	if c.ConsumerKey != "" && c.ConsumerSecret != "" {
		return c.ConsumerKey, c.ConsumerSecret
	}
	return c.ClientID, c.ClientSecret
}

func (c Config) validate(platform tokens.Platform) error {
	if c.ClientID == "" || c.ClientSecret == "" || c.CallbackURL == "" {
		return errors.ConfigError("client_id, client_secret and callback_url are required").
			WithContext("platform", platform)
	}
	return nil
}

// Authorization is the result of starting an authorization flow. Ephemeral
// leg material (the PKCE verifier, the request-token secret) must be held by
// the caller until the callback arrives; it never travels to the provider.
type Authorization struct {
	// URL is the provider page the end user is sent to.
	URL string
	// OAuth1URL is the classic-flow page for providers running a dual flow.
	OAuth1URL string
	// CodeVerifier is the PKCE verifier the exchange leg must present.
	CodeVerifier string
	// OAuth1RequestToken and OAuth1RequestSecret identify the classic-flow
	// request token the exchange leg must sign with.
	OAuth1RequestToken  string
	OAuth1RequestSecret string
}

// ExchangeInput carries the callback parameters into the code exchange.
// Single-flow providers use Code only; the dual-flow provider may carry
// either or both legs.
type ExchangeInput struct {
	Code         string
	CodeVerifier string

	OAuth1Token         string
	OAuth1Verifier      string
	OAuth1RequestSecret string
}

// Client is the capability set every provider implements. Exchange and
// Refresh return record fragments with credentials only; the caller owns
// user identity and merging.
type Client interface {
	Platform() tokens.Platform
	AuthorizationURL(ctx context.Context, state string, scopes []string) (*Authorization, error)
	ExchangeCode(ctx context.Context, in ExchangeInput) (*tokens.Record, error)
	Refresh(ctx context.Context, record *tokens.Record) (*tokens.Record, error)
}

// newHTTPClient builds the outbound client for provider calls. Token
// exchanges pass retries=0: authorization codes are single-use, so a blind
// retry after an ambiguous failure would burn the code. Idempotent GET-style
// refreshes may allow a couple of retries for transient faults.
func newHTTPClient(retries int, timeout time.Duration) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil

	client := rc.StandardClient()
	client.Timeout = timeout
	return client
}

// tokenResponse is the common OAuth2 token endpoint payload shape.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// credentials converts the wire payload into stored credentials, resolving
// expires_in against the clock. defaultTTL covers providers that omit
// expires_in for tokens that do in fact expire.
func (t *tokenResponse) credentials(now time.Time, defaultTTL time.Duration) *tokens.OAuth2Credentials {
	creds := &tokens.OAuth2Credentials{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Scope:        t.Scope,
	}
	ttl := time.Duration(t.ExpiresIn) * time.Second
	if ttl == 0 {
		ttl = defaultTTL
	}
	if ttl > 0 {
		creds.ExpiresAt = now.Add(ttl).Unix()
	}
	return creds
}

// providerErrorBody covers both the RFC 6749 flat error payload and the
// Graph API's nested object form; json.RawMessage lets one struct absorb
// either shape.
type providerErrorBody struct {
	Error       json.RawMessage `json:"error"`
	Description string          `json:"error_description"`
}

func (p *providerErrorBody) message() string {
	if len(p.Error) == 0 {
		return ""
	}

	var flat string
	if json.Unmarshal(p.Error, &flat) == nil && flat != "" {
		if p.Description != "" {
			return flat + ": " + p.Description
		}
		return flat
	}

	var graph struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	if json.Unmarshal(p.Error, &graph) == nil && graph.Message != "" {
		if graph.Type != "" {
			return graph.Type + ": " + graph.Message
		}
		return graph.Message
	}
	return ""
}

// decodeResponse reads a provider response, classifying failures. The
// secrets are redacted from any text that could reach a log line. A 429
// becomes a RateLimit error so the orchestrator can reset the limiter.
func decodeResponse(platform tokens.Platform, resp *http.Response, out any, secrets ...string) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.ProviderError(string(platform), resp.StatusCode, "failed to read provider response")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return errors.RateLimitError(string(platform))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody providerErrorBody
		msg := fmt.Sprintf("provider returned status %d", resp.StatusCode)
		if json.Unmarshal(body, &errBody) == nil {
			if detail := errBody.message(); detail != "" {
				msg = errors.Redact(detail, secrets...)
			}
		}
		return errors.ProviderError(string(platform), resp.StatusCode, msg)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.ProviderError(string(platform), resp.StatusCode, "provider returned malformed JSON")
	}
	return nil
}

// postForm issues an application/x-www-form-urlencoded POST with the
// standard JSON accept header providers expect on token endpoints.
func postForm(ctx context.Context, client *http.Client, endpoint, form string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form))
	if err != nil {
		return nil, errors.InternalError("failed to build provider request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	return client.Do(req)
}

func logExchange(logger logging.Logger, platform tokens.Platform, leg string) {
	logger.Debug("exchanging authorization grant",
		logging.String("platform", string(platform)),
		logging.String("leg", leg))
}
