// Package broker is the outward facade over the token lifecycle: it starts
// authorization flows, completes callbacks, serves valid tokens and revokes
// them. Only this boundary raises typed errors to the routing layer; the
// components underneath classify and contain their own failures.
package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"social-oauth/internal/common/errors"
	"social-oauth/internal/common/logging"
	"social-oauth/internal/platform"
	"social-oauth/internal/refresh"
	"social-oauth/internal/state"
	"social-oauth/internal/tokens"
)

const pendingCacheSize = 4096

// pendingAuth is the ephemeral leg material generated at init time and
// consumed at callback time. It never leaves the process. The classic leg's
// redirect carries no state parameter, so the entry also records whose flow
// it belongs to.
type pendingAuth struct {
	UserID              string
	FrontendCallbackURL string
	CodeVerifier        string
	OAuth1RequestToken  string
	OAuth1RequestSecret string
}

// Broker wires the state codec, platform clients and refresh orchestrator
// into the four operations the routing layer calls.
type Broker struct {
	codec        *state.Codec
	clients      map[tokens.Platform]platform.Client
	orchestrator *refresh.Orchestrator
	logger       logging.Logger

	// pending maps a state digest (and, for dual-flow platforms, the OAuth1
	// request token) to its leg material until the matching callback leg
	// arrives; entries age out with the state TTL.
	pending *expirable.LRU[string, pendingAuth]
}

// New builds a broker over the given collaborators.
func New(codec *state.Codec, clients map[tokens.Platform]platform.Client, orchestrator *refresh.Orchestrator, logger logging.Logger) *Broker {
	return &Broker{
		codec:        codec,
		clients:      clients,
		orchestrator: orchestrator,
		logger:       logger.WithFields(logging.Field{Key: "component", Value: "broker"}),
		pending:      expirable.NewLRU[string, pendingAuth](pendingCacheSize, nil, state.TTL),
	}
}

// InitResult is what the routing layer redirects or hands to the frontend.
type InitResult struct {
	AuthorizationURL string `json:"authorization_url"`
	OAuth1URL        string `json:"oauth1_url,omitempty"`
	State            string `json:"state"`
}

// CallbackInput carries the raw provider callback parameters.
type CallbackInput struct {
	State          string
	Code           string
	OAuth1Token    string
	OAuth1Verifier string
}

// CompleteResult pairs the stored record with the frontend redirect target
// recovered from the state parameter.
type CompleteResult struct {
	Record              *tokens.Record
	FrontendCallbackURL string
}

// Init starts an authorization flow: encode the state, build the provider
// URL(s), stash the ephemeral leg material for the callback.
func (b *Broker) Init(ctx context.Context, p tokens.Platform, userID, returnURL string, scopes []string) (*InitResult, error) {
	client, ok := b.clients[p]
	if !ok {
		return nil, errors.ConfigError("platform is not configured").WithContext("platform", p)
	}

	encoded, err := b.codec.Encode(userID, p, returnURL)
	if err != nil {
		return nil, err
	}

	auth, err := client.AuthorizationURL(ctx, encoded, scopes)
	if err != nil {
		return nil, err
	}

	leg := pendingAuth{
		UserID:              userID,
		FrontendCallbackURL: returnURL,
		CodeVerifier:        auth.CodeVerifier,
		OAuth1RequestToken:  auth.OAuth1RequestToken,
		OAuth1RequestSecret: auth.OAuth1RequestSecret,
	}
	if auth.CodeVerifier != "" || auth.OAuth1RequestSecret != "" {
		b.pending.Add(stateDigest(encoded), leg)
	}
	if auth.OAuth1RequestToken != "" {
		// The classic redirect returns only oauth_token and oauth_verifier;
		// that token is the only handle the second leg has on this flow.
		b.pending.Add(classicKey(auth.OAuth1RequestToken), leg)
	}

	b.logger.Info("authorization flow started",
		logging.String("user_id", userID),
		logging.String("platform", string(p)))

	return &InitResult{
		AuthorizationURL: auth.URL,
		OAuth1URL:        auth.OAuth1URL,
		State:            encoded,
	}, nil
}

// Complete finishes one callback leg: verify it belongs to a flow this
// process started, exchange the grant, persist the record under the refresh
// lock. An OAuth2 leg authenticates with the state parameter; a classic leg
// carries no state, so it authenticates with the request token issued at
// init. Both are single-use.
func (b *Broker) Complete(ctx context.Context, p tokens.Platform, in CallbackInput) (*CompleteResult, error) {
	client, ok := b.clients[p]
	if !ok {
		return nil, errors.ConfigError("platform is not configured").WithContext("platform", p)
	}

	exchange := platform.ExchangeInput{
		Code:           in.Code,
		OAuth1Token:    in.OAuth1Token,
		OAuth1Verifier: in.OAuth1Verifier,
	}

	var userID, frontendURL string
	switch {
	case in.State != "":
		// The codec enforces single use: a replayed state fails Decode.
		payload, err := b.codec.Decode(in.State, p)
		if err != nil {
			return nil, err
		}
		userID, frontendURL = payload.UserID, payload.FrontendCallbackURL

		digest := stateDigest(in.State)
		if leg, ok := b.pending.Get(digest); ok {
			exchange.CodeVerifier = leg.CodeVerifier
			exchange.OAuth1RequestSecret = leg.OAuth1RequestSecret
			if exchange.OAuth1Token == "" {
				exchange.OAuth1Token = leg.OAuth1RequestToken
			}
			b.pending.Remove(digest)
		}
		if exchange.OAuth1Verifier != "" && exchange.OAuth1Token != "" {
			b.pending.Remove(classicKey(exchange.OAuth1Token))
		}

	case in.OAuth1Token != "":
		leg, ok := b.pending.Get(classicKey(in.OAuth1Token))
		if !ok {
			return nil, errors.InvalidStateError("request token is unknown, expired or already used")
		}
		b.pending.Remove(classicKey(in.OAuth1Token))
		userID, frontendURL = leg.UserID, leg.FrontendCallbackURL
		exchange.OAuth1RequestSecret = leg.OAuth1RequestSecret

	default:
		return nil, errors.InvalidStateError("callback carried neither a state parameter nor a request token")
	}

	fragment, err := client.ExchangeCode(ctx, exchange)
	if err != nil {
		return nil, err
	}
	fragment.UserID = userID

	record, err := b.orchestrator.StoreAuthorized(ctx, fragment)
	if err != nil {
		return nil, err
	}

	b.logger.Info("authorization flow completed",
		logging.String("user_id", userID),
		logging.String("platform", string(p)))

	return &CompleteResult{
		Record:              record,
		FrontendCallbackURL: frontendURL,
	}, nil
}

// GetValid returns a usable record, refreshing transparently. Absence (nil
// record, nil error) means the user must re-authorize.
func (b *Broker) GetValid(ctx context.Context, p tokens.Platform, userID, apiKey string) (*tokens.Record, error) {
	return b.orchestrator.GetValidToken(ctx, userID, p, apiKey)
}

// Revoke forgets the user's credentials for the platform. Idempotent.
func (b *Broker) Revoke(ctx context.Context, p tokens.Platform, userID string) error {
	if err := b.orchestrator.Revoke(ctx, userID, p); err != nil {
		return err
	}
	b.logger.Info("authorization revoked",
		logging.String("user_id", userID),
		logging.String("platform", string(p)))
	return nil
}

// stateDigest keys the pending cache without holding the full state blob
// as a map key.
func stateDigest(encoded string) string {
	sum := sha256.Sum256([]byte(encoded))
	return hex.EncodeToString(sum[:])
}

// classicKey namespaces OAuth1 request tokens in the pending cache so they
// can never collide with a state digest.
func classicKey(requestToken string) string {
	return "oauth1\x00" + requestToken
}
