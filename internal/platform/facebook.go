package platform

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"social-oauth/internal/common/errors"
	"social-oauth/internal/common/logging"
	"social-oauth/internal/ratelimit"
	"social-oauth/internal/tokens"
)

// Facebook implements the Graph API OAuth2 flow. The provider has no
// refresh tokens; "refresh" exchanges the current access token for a new
// 60-day long-lived token via the fb_exchange_token grant.
type Facebook struct {
	config   Config
	limiter  ratelimit.Limiter
	logger   logging.Logger
	exchange *http.Client
	refresh  *http.Client
	now      func() time.Time

	authURL  string
	tokenURL string
}

var defaultFacebookScopes = []string{
	"public_profile",
	"email",
	"pages_show_list",
	"pages_read_engagement",
	"pages_manage_posts",
}

const facebookTokenTTL = time.Hour

// NewFacebook builds a facebook client.
func NewFacebook(config Config, limiter ratelimit.Limiter, logger logging.Logger) (*Facebook, error) {
	if err := config.validate(tokens.PlatformFacebook); err != nil {
		return nil, err
	}
	return &Facebook{
		config:  config,
		limiter: limiter,
		logger:  logger.WithFields(logging.Field{Key: "platform", Value: "facebook"}),
		// The long-lived exchange is an idempotent GET, safe to retry.
		exchange: newHTTPClient(0, 30*time.Second),
		refresh:  newHTTPClient(2, 30*time.Second),
		now:      time.Now,
		authURL:  "https://www.facebook.com/v12.0/dialog/oauth",
		tokenURL: "https://graph.facebook.com/v12.0/oauth/access_token",
	}, nil
}

func (f *Facebook) Platform() tokens.Platform { return tokens.PlatformFacebook }

// AuthorizationURL builds the provider redirect. Graph scopes are
// comma-separated, unlike the space-separated OAuth2 norm.
func (f *Facebook) AuthorizationURL(_ context.Context, state string, scopes []string) (*Authorization, error) {
	if len(scopes) == 0 {
		scopes = defaultFacebookScopes
	}

	params := url.Values{}
	params.Set("client_id", f.config.ClientID)
	params.Set("redirect_uri", f.config.CallbackURL)
	params.Set("state", state)
	params.Set("scope", strings.Join(scopes, ","))
	params.Set("response_type", "code")

	return &Authorization{URL: f.authURL + "?" + params.Encode()}, nil
}

// ExchangeCode swaps the callback code for an access token. The Graph
// token endpoint takes its parameters on the query string of a GET.
func (f *Facebook) ExchangeCode(ctx context.Context, in ExchangeInput) (*tokens.Record, error) {
	if in.Code == "" {
		return nil, errors.ValidationError("authorization code is required")
	}
	logExchange(f.logger, tokens.PlatformFacebook, "oauth2")

	params := url.Values{}
	params.Set("client_id", f.config.ClientID)
	params.Set("client_secret", f.config.ClientSecret)
	params.Set("redirect_uri", f.config.CallbackURL)
	params.Set("code", in.Code)

	if err := f.limiter.Wait(ctx, "token"); err != nil {
		return nil, errors.TimeoutError("rate limiter wait")
	}
	body, err := f.getToken(ctx, f.exchange, params, in.Code)
	if err != nil {
		return nil, err
	}

	creds := body.credentials(f.now(), facebookTokenTTL)
	creds.TokenType = "bearer"
	return &tokens.Record{Platform: tokens.PlatformFacebook, OAuth2: creds}, nil
}

// Refresh exchanges the current token for a fresh long-lived one.
func (f *Facebook) Refresh(ctx context.Context, record *tokens.Record) (*tokens.Record, error) {
	if record.OAuth2 == nil || record.OAuth2.AccessToken == "" {
		return nil, errors.RefreshUnavailableError("facebook record has no access token to exchange")
	}

	params := url.Values{}
	params.Set("grant_type", "fb_exchange_token")
	params.Set("client_id", f.config.ClientID)
	params.Set("client_secret", f.config.ClientSecret)
	params.Set("fb_exchange_token", record.OAuth2.AccessToken)

	if err := f.limiter.Wait(ctx, "refresh"); err != nil {
		return nil, errors.TimeoutError("rate limiter wait")
	}
	body, err := f.getToken(ctx, f.refresh, params, record.OAuth2.AccessToken)
	if err != nil {
		return nil, err
	}

	creds := body.credentials(f.now(), facebookTokenTTL)
	creds.TokenType = "bearer"
	return &tokens.Record{Platform: tokens.PlatformFacebook, OAuth2: creds}, nil
}

func (f *Facebook) getToken(ctx context.Context, client *http.Client, params url.Values, secret string) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.tokenURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.InternalError("failed to build provider request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.ProviderError("facebook", 0, "token request failed")
	}
	var body tokenResponse
	if err := decodeResponse(tokens.PlatformFacebook, resp, &body, f.config.ClientSecret, secret); err != nil {
		return nil, err
	}
	return &body, nil
}
