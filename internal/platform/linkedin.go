package platform

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"time"

	"social-oauth/internal/common/errors"
	"social-oauth/internal/common/logging"
	"social-oauth/internal/ratelimit"
	"social-oauth/internal/tokens"
)

// LinkedIn implements the plain OAuth2 authorization-code flow. The refresh
// leg authenticates with a Basic header instead of body credentials, which
// is what the provider's token endpoint expects.
type LinkedIn struct {
	config   Config
	limiter  ratelimit.Limiter
	logger   logging.Logger
	exchange *http.Client
	now      func() time.Time

	authURL  string
	tokenURL string
}

var defaultLinkedInScopes = []string{"openid", "profile", "w_member_social", "email"}

const linkedinTokenTTL = time.Hour

// NewLinkedIn builds a linkedin client.
func NewLinkedIn(config Config, limiter ratelimit.Limiter, logger logging.Logger) (*LinkedIn, error) {
	if err := config.validate(tokens.PlatformLinkedIn); err != nil {
		return nil, err
	}
	return &LinkedIn{
		config:   config,
		limiter:  limiter,
		logger:   logger.WithFields(logging.Field{Key: "platform", Value: "linkedin"}),
		exchange: newHTTPClient(0, 30*time.Second),
		now:      time.Now,
		authURL:  "https://www.linkedin.com/oauth/v2/authorization",
		tokenURL: "https://www.linkedin.com/oauth/v2/accessToken",
	}, nil
}

func (l *LinkedIn) Platform() tokens.Platform { return tokens.PlatformLinkedIn }

// AuthorizationURL builds the provider redirect. No network I/O.
func (l *LinkedIn) AuthorizationURL(_ context.Context, state string, scopes []string) (*Authorization, error) {
	if len(scopes) == 0 {
		scopes = defaultLinkedInScopes
	}

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", l.config.ClientID)
	params.Set("redirect_uri", l.config.CallbackURL)
	params.Set("state", state)
	params.Set("scope", strings.Join(scopes, " "))

	return &Authorization{URL: l.authURL + "?" + params.Encode()}, nil
}

// ExchangeCode swaps the callback code for credentials.
func (l *LinkedIn) ExchangeCode(ctx context.Context, in ExchangeInput) (*tokens.Record, error) {
	if in.Code == "" {
		return nil, errors.ValidationError("authorization code is required")
	}
	logExchange(l.logger, tokens.PlatformLinkedIn, "oauth2")

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", in.Code)
	form.Set("client_id", l.config.ClientID)
	form.Set("client_secret", l.config.ClientSecret)
	form.Set("redirect_uri", l.config.CallbackURL)

	if err := l.limiter.Wait(ctx, "token"); err != nil {
		return nil, errors.TimeoutError("rate limiter wait")
	}
	resp, err := postForm(ctx, l.exchange, l.tokenURL, form.Encode(), nil)
	if err != nil {
		return nil, errors.ProviderError("linkedin", 0, "token exchange request failed")
	}
	var body tokenResponse
	if err := decodeResponse(tokens.PlatformLinkedIn, resp, &body, l.config.ClientSecret, in.Code); err != nil {
		return nil, err
	}

	return &tokens.Record{
		Platform: tokens.PlatformLinkedIn,
		OAuth2:   body.credentials(l.now(), linkedinTokenTTL),
	}, nil
}

// Refresh uses the refresh token grant with Basic client authentication.
func (l *LinkedIn) Refresh(ctx context.Context, record *tokens.Record) (*tokens.Record, error) {
	if record.OAuth2 == nil || record.OAuth2.RefreshToken == "" {
		return nil, errors.RefreshUnavailableError("linkedin record has no refresh token")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", record.OAuth2.RefreshToken)

	basic := base64.StdEncoding.EncodeToString([]byte(l.config.ClientID + ":" + l.config.ClientSecret))
	header := http.Header{}
	header.Set("Authorization", "Basic "+basic)

	if err := l.limiter.Wait(ctx, "refresh"); err != nil {
		return nil, errors.TimeoutError("rate limiter wait")
	}
	resp, err := postForm(ctx, l.exchange, l.tokenURL, form.Encode(), header)
	if err != nil {
		return nil, errors.ProviderError("linkedin", 0, "refresh request failed")
	}
	var body tokenResponse
	if err := decodeResponse(tokens.PlatformLinkedIn, resp, &body, l.config.ClientSecret, record.OAuth2.RefreshToken); err != nil {
		return nil, err
	}

	creds := body.credentials(l.now(), linkedinTokenTTL)
	if creds.RefreshToken == "" {
		creds.RefreshToken = record.OAuth2.RefreshToken
	}
	return &tokens.Record{Platform: tokens.PlatformLinkedIn, OAuth2: creds}, nil
}
