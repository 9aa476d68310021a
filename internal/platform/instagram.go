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

// Instagram implements business-account OAuth via the Facebook Graph API.
// The exchange is a three-step flow: code to short-lived Facebook token,
// page scan to find the connected business account, then the
// fb_exchange_token grant for a 60-day long-lived token.
type Instagram struct {
	config   Config
	limiter  ratelimit.Limiter
	logger   logging.Logger
	exchange *http.Client
	refresh  *http.Client
	now      func() time.Time

	authURL  string
	tokenURL string
	graphURL string
}

var defaultInstagramScopes = []string{
	"instagram_basic",
	"instagram_content_publish",
	"pages_show_list",
	"pages_read_engagement",
	"business_management",
}

// Long-lived tokens last 60 days.
const instagramTokenTTL = 60 * 24 * time.Hour

// NewInstagram builds an instagram client.
func NewInstagram(config Config, limiter ratelimit.Limiter, logger logging.Logger) (*Instagram, error) {
	if err := config.validate(tokens.PlatformInstagram); err != nil {
		return nil, err
	}
	return &Instagram{
		config:   config,
		limiter:  limiter,
		logger:   logger.WithFields(logging.Field{Key: "platform", Value: "instagram"}),
		exchange: newHTTPClient(0, 30*time.Second),
		refresh:  newHTTPClient(2, 30*time.Second),
		now:      time.Now,
		authURL:  "https://www.facebook.com/v17.0/dialog/oauth",
		tokenURL: "https://graph.facebook.com/v17.0/oauth/access_token",
		graphURL: "https://graph.facebook.com/v17.0",
	}, nil
}

func (i *Instagram) Platform() tokens.Platform { return tokens.PlatformInstagram }

// AuthorizationURL builds the Facebook dialog redirect with the business
// scopes the Instagram Graph API requires.
func (i *Instagram) AuthorizationURL(_ context.Context, state string, scopes []string) (*Authorization, error) {
	if len(scopes) == 0 {
		scopes = defaultInstagramScopes
	}

	params := url.Values{}
	params.Set("client_id", i.config.ClientID)
	params.Set("redirect_uri", i.config.CallbackURL)
	params.Set("scope", strings.Join(scopes, ","))
	params.Set("response_type", "code")
	params.Set("state", state)

	return &Authorization{URL: i.authURL + "?" + params.Encode()}, nil
}

// ExchangeCode runs the full three-step flow and returns long-lived
// credentials annotated with the discovered business account.
func (i *Instagram) ExchangeCode(ctx context.Context, in ExchangeInput) (*tokens.Record, error) {
	if in.Code == "" {
		return nil, errors.ValidationError("authorization code is required")
	}
	logExchange(i.logger, tokens.PlatformInstagram, "oauth2")

	if err := i.limiter.Wait(ctx, "token"); err != nil {
		return nil, errors.TimeoutError("rate limiter wait")
	}

	// Step 1: short-lived Facebook token.
	params := url.Values{}
	params.Set("client_id", i.config.ClientID)
	params.Set("client_secret", i.config.ClientSecret)
	params.Set("redirect_uri", i.config.CallbackURL)
	params.Set("code", in.Code)

	shortLived, err := i.getToken(ctx, i.exchange, params, in.Code)
	if err != nil {
		return nil, err
	}

	// Step 2: find the connected business account.
	accountID, username, err := i.findBusinessAccount(ctx, shortLived.AccessToken)
	if err != nil {
		return nil, err
	}

	// Step 3: long-lived exchange.
	params = url.Values{}
	params.Set("grant_type", "fb_exchange_token")
	params.Set("client_id", i.config.ClientID)
	params.Set("client_secret", i.config.ClientSecret)
	params.Set("fb_exchange_token", shortLived.AccessToken)

	longLived, err := i.getToken(ctx, i.exchange, params, shortLived.AccessToken)
	if err != nil {
		return nil, err
	}

	creds := longLived.credentials(i.now(), instagramTokenTTL)
	creds.TokenType = "bearer"
	creds.AccountID = accountID
	creds.Username = username
	return &tokens.Record{Platform: tokens.PlatformInstagram, OAuth2: creds}, nil
}

// Refresh exchanges the current long-lived token for a fresh one.
func (i *Instagram) Refresh(ctx context.Context, record *tokens.Record) (*tokens.Record, error) {
	if record.OAuth2 == nil || record.OAuth2.AccessToken == "" {
		return nil, errors.RefreshUnavailableError("instagram record has no access token to exchange")
	}

	params := url.Values{}
	params.Set("grant_type", "fb_exchange_token")
	params.Set("client_id", i.config.ClientID)
	params.Set("client_secret", i.config.ClientSecret)
	params.Set("fb_exchange_token", record.OAuth2.AccessToken)

	if err := i.limiter.Wait(ctx, "refresh"); err != nil {
		return nil, errors.TimeoutError("rate limiter wait")
	}
	body, err := i.getToken(ctx, i.refresh, params, record.OAuth2.AccessToken)
	if err != nil {
		return nil, err
	}

	creds := body.credentials(i.now(), instagramTokenTTL)
	creds.TokenType = "bearer"
	// The business account does not change across refreshes.
	creds.AccountID = record.OAuth2.AccountID
	creds.Username = record.OAuth2.Username
	return &tokens.Record{Platform: tokens.PlatformInstagram, OAuth2: creds}, nil
}

func (i *Instagram) getToken(ctx context.Context, client *http.Client, params url.Values, secret string) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.tokenURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.InternalError("failed to build provider request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.ProviderError("instagram", 0, "token request failed")
	}
	var body tokenResponse
	if err := decodeResponse(tokens.PlatformInstagram, resp, &body, i.config.ClientSecret, secret); err != nil {
		return nil, err
	}
	return &body, nil
}

// findBusinessAccount scans the user's pages for a connected Instagram
// business account.
func (i *Instagram) findBusinessAccount(ctx context.Context, accessToken string) (id, username string, err error) {
	params := url.Values{}
	params.Set("access_token", accessToken)
	params.Set("fields", "instagram_business_account{id,username}")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.graphURL+"/me/accounts?"+params.Encode(), nil)
	if err != nil {
		return "", "", errors.InternalError("failed to build provider request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := i.exchange.Do(req)
	if err != nil {
		return "", "", errors.ProviderError("instagram", 0, "account lookup failed")
	}

	var body struct {
		Data []struct {
			BusinessAccount *struct {
				ID       string `json:"id"`
				Username string `json:"username"`
			} `json:"instagram_business_account"`
		} `json:"data"`
	}
	if err := decodeResponse(tokens.PlatformInstagram, resp, &body, accessToken); err != nil {
		return "", "", err
	}

	for _, page := range body.Data {
		if page.BusinessAccount != nil {
			return page.BusinessAccount.ID, page.BusinessAccount.Username, nil
		}
	}
	return "", "", errors.ProviderError("instagram", resp.StatusCode, "no instagram business account connected to any page")
}
