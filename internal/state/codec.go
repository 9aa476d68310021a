// Package state implements the OAuth state parameter: an opaque, encrypted,
// time-boxed token binding the authorization callback to the request that
// started it, carrying the routing metadata needed to finish the flow.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"social-oauth/internal/common/errors"
	"social-oauth/internal/crypto"
	"social-oauth/internal/tokens"
)

// TTL is how long an issued state parameter stays valid.
const TTL = time.Hour

// consumedCacheSize bounds the replay cache. Entries also age out at the
// state TTL, after which the timestamp check rejects the token anyway.
const consumedCacheSize = 4096

// Payload is the routing metadata carried through the authorization
// redirect.
type Payload struct {
	UserID              string          `json:"user_id"`
	Platform            tokens.Platform `json:"platform"`
	FrontendCallbackURL string          `json:"frontend_callback_url"`
	IssuedAt            int64           `json:"issued_at"`
}

// Codec encodes and verifies state parameters. Tokens are AES-GCM encrypted
// JSON, so they are tamper-evident and their contents are opaque to the
// provider round-tripping them. Decoding is fail-closed: any decode, parse
// or TTL failure is an invalid-state error, never a crash.
//
// Each state decodes successfully at most once. Consumed tokens are
// remembered (bounded, expiring cache) so a replayed callback inside the
// TTL window is rejected.
type Codec struct {
	cipher   *crypto.TokenCipher
	ttl      time.Duration
	consumed *expirable.LRU[string, struct{}]
	now      func() time.Time
}

// NewCodec creates a state codec using the given cipher.
func NewCodec(cipher *crypto.TokenCipher) *Codec {
	return &Codec{
		cipher:   cipher,
		ttl:      TTL,
		consumed: expirable.NewLRU[string, struct{}](consumedCacheSize, nil, TTL),
		now:      time.Now,
	}
}

// Encode produces a state parameter for an authorization attempt.
func (c *Codec) Encode(userID string, platform tokens.Platform, frontendCallbackURL string) (string, error) {
	if userID == "" {
		return "", errors.ValidationError("user_id is required")
	}

	payload := Payload{
		UserID:              userID,
		Platform:            platform,
		FrontendCallbackURL: frontendCallbackURL,
		IssuedAt:            c.now().Unix(),
	}
	return c.cipher.EncryptJSON(payload)
}

// Decode verifies a state parameter returned by a provider callback and
// recovers the routing metadata. The expected platform must match the one
// embedded at encode time, preventing a state minted for one platform's
// callback from completing another's.
func (c *Codec) Decode(state string, expected tokens.Platform) (*Payload, error) {
	if state == "" {
		return nil, errors.InvalidStateError("state parameter is empty")
	}

	var payload Payload
	if err := c.cipher.DecryptJSON(state, &payload); err != nil {
		return nil, errors.InvalidStateError("state parameter failed verification")
	}

	if payload.UserID == "" || payload.Platform == "" {
		return nil, errors.InvalidStateError("state parameter is missing required fields")
	}
	if payload.Platform != expected {
		return nil, errors.InvalidStateError("state parameter platform mismatch").
			WithContext("expected", expected).
			WithContext("got", payload.Platform)
	}

	age := c.now().Unix() - payload.IssuedAt
	if age < 0 || age > int64(c.ttl.Seconds()) {
		return nil, errors.InvalidStateError("state parameter has expired")
	}

	digest := sha256.Sum256([]byte(state))
	key := hex.EncodeToString(digest[:])
	if _, replayed := c.consumed.Get(key); replayed {
		return nil, errors.InvalidStateError("state parameter has already been used")
	}
	c.consumed.Add(key, struct{}{})

	return &payload, nil
}
