package broker

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-oauth/internal/common/errors"
	"social-oauth/internal/common/logging"
	"social-oauth/internal/crypto"
	"social-oauth/internal/platform"
	"social-oauth/internal/ratelimit"
	"social-oauth/internal/refresh"
	"social-oauth/internal/state"
	"social-oauth/internal/store"
	"social-oauth/internal/tokens"
)

// scriptedClient implements platform.Client with canned results. A verifier
// in the exchange input selects the classic-leg result when one is scripted.
type scriptedClient struct {
	p                tokens.Platform
	auth             *platform.Authorization
	exchanged        *tokens.Record
	exchangedClassic *tokens.Record
	lastInput        platform.ExchangeInput
}

func (c *scriptedClient) Platform() tokens.Platform { return c.p }

func (c *scriptedClient) AuthorizationURL(context.Context, string, []string) (*platform.Authorization, error) {
	return c.auth, nil
}

func (c *scriptedClient) ExchangeCode(_ context.Context, in platform.ExchangeInput) (*tokens.Record, error) {
	c.lastInput = in
	if in.OAuth1Verifier != "" && c.exchangedClassic != nil {
		return c.exchangedClassic, nil
	}
	return c.exchanged, nil
}

func (c *scriptedClient) Refresh(_ context.Context, _ *tokens.Record) (*tokens.Record, error) {
	return c.exchanged, nil
}

func newTestBroker(t *testing.T, client *scriptedClient) (*Broker, *tokens.Manager) {
	t.Helper()

	tokenStore, err := store.Open(filepath.Join(t.TempDir(), "tokens.db"))
	require.NoError(t, err)
	t.Cleanup(func() { tokenStore.Close() })

	cipher, err := crypto.NewTokenCipher([]byte(strings.Repeat("k", crypto.KeySize)))
	require.NoError(t, err)

	logger, err := logging.NewZapLogger(logging.LogConfig{Level: logging.ErrorLevel})
	require.NoError(t, err)

	manager := tokens.NewManager(cipher, tokenStore, logger)
	clients := map[tokens.Platform]platform.Client{client.p: client}
	limiters := map[tokens.Platform]ratelimit.Limiter{
		client.p: ratelimit.NewPlatformLimiter(string(client.p), ratelimit.Config{Policy: ratelimit.PolicyInterval, RequestsPerSecond: 1000}, logger),
	}
	orchestrator := refresh.NewOrchestrator(manager, tokenStore, clients, limiters, nil, logger)

	return New(state.NewCodec(cipher), clients, orchestrator, logger), manager
}

func TestInitAndCompleteRoundTrip(t *testing.T) {
	client := &scriptedClient{
		p:    tokens.PlatformLinkedIn,
		auth: &platform.Authorization{URL: "https://provider.example/authorize?x=1"},
		exchanged: &tokens.Record{
			Platform: tokens.PlatformLinkedIn,
			OAuth2:   &tokens.OAuth2Credentials{AccessToken: "AT", RefreshToken: "RT", ExpiresAt: time.Now().Add(time.Hour).Unix()},
		},
	}
	b, manager := newTestBroker(t, client)

	init, err := b.Init(context.Background(), tokens.PlatformLinkedIn, "u1", "https://frontend.example/done", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://provider.example/authorize?x=1", init.AuthorizationURL)
	assert.NotEmpty(t, init.State)

	result, err := b.Complete(context.Background(), tokens.PlatformLinkedIn, CallbackInput{
		State: init.State,
		Code:  "the-code",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://frontend.example/done", result.FrontendCallbackURL)
	assert.Equal(t, "u1", result.Record.UserID)

	stored, err := manager.Get(tokens.PlatformLinkedIn, "u1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "AT", stored.OAuth2.AccessToken)
}

func TestCompletePassesPendingLegMaterial(t *testing.T) {
	client := &scriptedClient{
		p: tokens.PlatformTwitter,
		auth: &platform.Authorization{
			URL:                 "https://provider.example/oauth2",
			OAuth1URL:           "https://provider.example/oauth1",
			CodeVerifier:        "the-verifier",
			OAuth1RequestToken:  "req-token",
			OAuth1RequestSecret: "req-secret",
		},
		exchanged: &tokens.Record{
			Platform: tokens.PlatformTwitter,
			OAuth2:   &tokens.OAuth2Credentials{AccessToken: "AT", RefreshToken: "RT", ExpiresAt: time.Now().Add(time.Hour).Unix()},
		},
	}
	b, _ := newTestBroker(t, client)

	init, err := b.Init(context.Background(), tokens.PlatformTwitter, "u1", "https://frontend.example/done", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://provider.example/oauth1", init.OAuth1URL)

	_, err = b.Complete(context.Background(), tokens.PlatformTwitter, CallbackInput{
		State: init.State,
		Code:  "the-code",
	})
	require.NoError(t, err)

	assert.Equal(t, "the-verifier", client.lastInput.CodeVerifier)
	assert.Equal(t, "req-secret", client.lastInput.OAuth1RequestSecret)
	assert.Equal(t, "req-token", client.lastInput.OAuth1Token)
}

// The dual flow delivers two independent redirects: the PKCE leg with
// state+code, then the classic leg carrying only oauth_token and
// oauth_verifier. The second leg must complete without a state parameter
// and merge into the stored record.
func TestCompleteClassicLegWithoutState(t *testing.T) {
	client := &scriptedClient{
		p: tokens.PlatformTwitter,
		auth: &platform.Authorization{
			URL:                 "https://provider.example/oauth2",
			OAuth1URL:           "https://provider.example/oauth1",
			CodeVerifier:        "the-verifier",
			OAuth1RequestToken:  "req-token",
			OAuth1RequestSecret: "req-secret",
		},
		exchanged: &tokens.Record{
			Platform: tokens.PlatformTwitter,
			OAuth2:   &tokens.OAuth2Credentials{AccessToken: "AT", RefreshToken: "RT", ExpiresAt: time.Now().Add(time.Hour).Unix()},
		},
		exchangedClassic: &tokens.Record{
			Platform: tokens.PlatformTwitter,
			OAuth1:   &tokens.OAuth1Credentials{AccessToken: "classic-at", AccessTokenSecret: "classic-secret"},
		},
	}
	b, manager := newTestBroker(t, client)

	init, err := b.Init(context.Background(), tokens.PlatformTwitter, "u1", "https://frontend.example/done", nil)
	require.NoError(t, err)

	// Leg 1: the PKCE redirect.
	_, err = b.Complete(context.Background(), tokens.PlatformTwitter, CallbackInput{
		State: init.State,
		Code:  "the-code",
	})
	require.NoError(t, err)

	// Leg 2: no state.
	result, err := b.Complete(context.Background(), tokens.PlatformTwitter, CallbackInput{
		OAuth1Token:    "req-token",
		OAuth1Verifier: "the-verifier",
	})
	require.NoError(t, err)

	assert.Equal(t, "u1", result.Record.UserID)
	assert.Equal(t, "https://frontend.example/done", result.FrontendCallbackURL)
	assert.Equal(t, "req-secret", client.lastInput.OAuth1RequestSecret)
	assert.Equal(t, "the-verifier", client.lastInput.OAuth1Verifier)

	stored, err := manager.Get(tokens.PlatformTwitter, "u1")
	require.NoError(t, err)
	require.NotNil(t, stored.OAuth2)
	require.NotNil(t, stored.OAuth1)
	assert.Equal(t, "AT", stored.OAuth2.AccessToken)
	assert.Equal(t, "classic-at", stored.OAuth1.AccessToken)

	// The classic leg is single-use, like the state parameter.
	_, err = b.Complete(context.Background(), tokens.PlatformTwitter, CallbackInput{
		OAuth1Token:    "req-token",
		OAuth1Verifier: "the-verifier",
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidState))
}

func TestCompleteRejectsUnknownRequestToken(t *testing.T) {
	client := &scriptedClient{
		p:    tokens.PlatformTwitter,
		auth: &platform.Authorization{URL: "https://provider.example/oauth2"},
	}
	b, _ := newTestBroker(t, client)

	_, err := b.Complete(context.Background(), tokens.PlatformTwitter, CallbackInput{
		OAuth1Token:    "never-issued",
		OAuth1Verifier: "v",
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidState))
}

func TestCompleteRejectsBadState(t *testing.T) {
	client := &scriptedClient{
		p:    tokens.PlatformLinkedIn,
		auth: &platform.Authorization{URL: "https://provider.example/authorize"},
	}
	b, _ := newTestBroker(t, client)

	_, err := b.Complete(context.Background(), tokens.PlatformLinkedIn, CallbackInput{
		State: "garbage",
		Code:  "c",
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidState))
}

func TestCompleteRejectsPlatformMismatch(t *testing.T) {
	client := &scriptedClient{
		p:    tokens.PlatformLinkedIn,
		auth: &platform.Authorization{URL: "https://provider.example/authorize"},
	}
	b, _ := newTestBroker(t, client)

	init, err := b.Init(context.Background(), tokens.PlatformLinkedIn, "u1", "https://frontend.example/done", nil)
	require.NoError(t, err)

	_, err = b.Complete(context.Background(), tokens.PlatformFacebook, CallbackInput{
		State: init.State,
		Code:  "c",
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidState))
}

func TestCompleteRejectsReplayedState(t *testing.T) {
	client := &scriptedClient{
		p:    tokens.PlatformLinkedIn,
		auth: &platform.Authorization{URL: "https://provider.example/authorize"},
		exchanged: &tokens.Record{
			Platform: tokens.PlatformLinkedIn,
			OAuth2:   &tokens.OAuth2Credentials{AccessToken: "AT", ExpiresAt: time.Now().Add(time.Hour).Unix()},
		},
	}
	b, _ := newTestBroker(t, client)

	init, err := b.Init(context.Background(), tokens.PlatformLinkedIn, "u1", "https://frontend.example/done", nil)
	require.NoError(t, err)

	_, err = b.Complete(context.Background(), tokens.PlatformLinkedIn, CallbackInput{State: init.State, Code: "c"})
	require.NoError(t, err)

	_, err = b.Complete(context.Background(), tokens.PlatformLinkedIn, CallbackInput{State: init.State, Code: "c"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidState))
}

func TestInitUnconfiguredPlatform(t *testing.T) {
	client := &scriptedClient{p: tokens.PlatformLinkedIn, auth: &platform.Authorization{URL: "u"}}
	b, _ := newTestBroker(t, client)

	_, err := b.Init(context.Background(), tokens.PlatformFacebook, "u1", "https://frontend.example/done", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestRevokeThenGetValid(t *testing.T) {
	client := &scriptedClient{
		p:    tokens.PlatformLinkedIn,
		auth: &platform.Authorization{URL: "u"},
		exchanged: &tokens.Record{
			Platform: tokens.PlatformLinkedIn,
			OAuth2:   &tokens.OAuth2Credentials{AccessToken: "AT", ExpiresAt: time.Now().Add(time.Hour).Unix()},
		},
	}
	b, _ := newTestBroker(t, client)

	init, err := b.Init(context.Background(), tokens.PlatformLinkedIn, "u1", "https://frontend.example/done", nil)
	require.NoError(t, err)
	_, err = b.Complete(context.Background(), tokens.PlatformLinkedIn, CallbackInput{State: init.State, Code: "c"})
	require.NoError(t, err)

	require.NoError(t, b.Revoke(context.Background(), tokens.PlatformLinkedIn, "u1"))

	record, err := b.GetValid(context.Background(), tokens.PlatformLinkedIn, "u1", "")
	require.NoError(t, err)
	assert.Nil(t, record)
}
