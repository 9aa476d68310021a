package platform

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
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

// Twitter runs both of the platform's flows: the OAuth2 PKCE flow whose
// tokens expire and refresh, and the classic OAuth 1.0a flow whose
// credentials never expire and are still required for media upload.
type Twitter struct {
	config   Config
	limiter  ratelimit.Limiter
	logger   logging.Logger
	exchange *http.Client
	signer   *oauth1Signer
	now      func() time.Time

	authURL         string
	tokenURL        string
	requestTokenURL string
	authorizeURL    string
	accessTokenURL  string
}

var defaultTwitterScopes = []string{"tweet.read", "tweet.write", "users.read", "offline.access"}

// Twitter's OAuth2 tokens last two hours; the provider does not always echo
// expires_in on refresh.
const twitterTokenTTL = 2 * time.Hour

// NewTwitter builds a twitter client.
func NewTwitter(config Config, limiter ratelimit.Limiter, logger logging.Logger) (*Twitter, error) {
	if err := config.validate(tokens.PlatformTwitter); err != nil {
		return nil, err
	}
	now := time.Now
	consumerKey, consumerSecret := config.consumerPair()
	return &Twitter{
		config:  config,
		limiter: limiter,
		logger:  logger.WithFields(logging.Field{Key: "platform", Value: "twitter"}),
		// Zero retries everywhere: codes are single-use and refresh tokens
		// rotate, so a blind retry can burn the grant.
		exchange: newHTTPClient(0, 30*time.Second),
		signer: &oauth1Signer{
			consumerKey:    consumerKey,
			consumerSecret: consumerSecret,
			now:            now,
		},
		now:             now,
		authURL:         "https://twitter.com/i/oauth2/authorize",
		tokenURL:        "https://api.twitter.com/2/oauth2/token",
		requestTokenURL: "https://api.twitter.com/oauth/request_token",
		authorizeURL:    "https://api.twitter.com/oauth/authorize",
		accessTokenURL:  "https://api.twitter.com/oauth/access_token",
	}, nil
}

func (t *Twitter) Platform() tokens.Platform { return tokens.PlatformTwitter }

// AuthorizationURL produces both flow URLs. The classic leg requires a
// signed request-token call to the provider before a URL exists, so this
// operation performs network I/O.
func (t *Twitter) AuthorizationURL(ctx context.Context, state string, scopes []string) (*Authorization, error) {
	if len(scopes) == 0 {
		scopes = defaultTwitterScopes
	}

	verifier, challenge := newPKCEPair()

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", t.config.ClientID)
	params.Set("redirect_uri", t.config.CallbackURL)
	params.Set("scope", strings.Join(scopes, " "))
	params.Set("state", state)
	params.Set("code_challenge", challenge)
	params.Set("code_challenge_method", "S256")

	if err := t.limiter.Wait(ctx, "request_token"); err != nil {
		return nil, errors.TimeoutError("rate limiter wait")
	}
	reqToken, reqSecret, err := t.signer.requestToken(ctx, t.exchange, t.requestTokenURL, t.config.CallbackURL)
	if err != nil {
		return nil, err
	}

	return &Authorization{
		URL:                 t.authURL + "?" + params.Encode(),
		OAuth1URL:           t.authorizeURL + "?oauth_token=" + url.QueryEscape(reqToken),
		CodeVerifier:        verifier,
		OAuth1RequestToken:  reqToken,
		OAuth1RequestSecret: reqSecret,
	}, nil
}

// ExchangeCode completes whichever legs the callback carried. A dual
// callback yields a record holding both schemes.
func (t *Twitter) ExchangeCode(ctx context.Context, in ExchangeInput) (*tokens.Record, error) {
	if in.Code == "" && in.OAuth1Verifier == "" {
		return nil, errors.ValidationError("callback carried neither an authorization code nor a verifier")
	}

	record := &tokens.Record{Platform: tokens.PlatformTwitter}

	if in.Code != "" {
		logExchange(t.logger, tokens.PlatformTwitter, "oauth2")

		form := url.Values{}
		form.Set("grant_type", "authorization_code")
		form.Set("code", in.Code)
		form.Set("client_id", t.config.ClientID)
		form.Set("client_secret", t.config.ClientSecret)
		form.Set("redirect_uri", t.config.CallbackURL)
		form.Set("code_verifier", in.CodeVerifier)

		if err := t.limiter.Wait(ctx, "token"); err != nil {
			return nil, errors.TimeoutError("rate limiter wait")
		}
		resp, err := postForm(ctx, t.exchange, t.tokenURL, form.Encode(), nil)
		if err != nil {
			return nil, errors.ProviderError("twitter", 0, "token exchange request failed")
		}
		var body tokenResponse
		if err := decodeResponse(tokens.PlatformTwitter, resp, &body, t.config.ClientSecret, in.Code); err != nil {
			return nil, err
		}
		record.OAuth2 = body.credentials(t.now(), twitterTokenTTL)
	}

	if in.OAuth1Verifier != "" {
		logExchange(t.logger, tokens.PlatformTwitter, "oauth1")

		if err := t.limiter.Wait(ctx, "token"); err != nil {
			return nil, errors.TimeoutError("rate limiter wait")
		}
		creds, err := t.signer.accessToken(ctx, t.exchange, t.accessTokenURL, in.OAuth1Token, in.OAuth1RequestSecret, in.OAuth1Verifier)
		if err != nil {
			return nil, err
		}
		record.OAuth1 = creds
	}

	return record, nil
}

// Refresh rotates the OAuth2 scheme. Classic credentials never expire and
// are never touched here; Merge preserves them.
func (t *Twitter) Refresh(ctx context.Context, record *tokens.Record) (*tokens.Record, error) {
	if record.OAuth2 == nil || record.OAuth2.RefreshToken == "" {
		return nil, errors.RefreshUnavailableError("twitter record has no refresh token")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", record.OAuth2.RefreshToken)
	form.Set("client_id", t.config.ClientID)
	form.Set("client_secret", t.config.ClientSecret)

	if err := t.limiter.Wait(ctx, "refresh"); err != nil {
		return nil, errors.TimeoutError("rate limiter wait")
	}
	resp, err := postForm(ctx, t.exchange, t.tokenURL, form.Encode(), nil)
	if err != nil {
		return nil, errors.ProviderError("twitter", 0, "refresh request failed")
	}
	var body tokenResponse
	if err := decodeResponse(tokens.PlatformTwitter, resp, &body, t.config.ClientSecret, record.OAuth2.RefreshToken); err != nil {
		return nil, err
	}

	creds := body.credentials(t.now(), twitterTokenTTL)
	if creds.RefreshToken == "" {
		// Some rotations omit the new refresh token; keep the old one
		// rather than losing refreshability.
		creds.RefreshToken = record.OAuth2.RefreshToken
	}
	return &tokens.Record{Platform: tokens.PlatformTwitter, OAuth2: creds}, nil
}

// newPKCEPair generates a verifier and its S256 challenge.
func newPKCEPair() (verifier, challenge string) {
	buf := make([]byte, 32)
	rand.Read(buf)
	verifier = base64.RawURLEncoding.EncodeToString(buf)
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge
}
