// Package tokens defines the token record model and the encrypting token
// manager layered on the persistent store.
package tokens

import (
	"time"

	"social-oauth/internal/common/errors"
)

// Platform identifies a supported social platform.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
)

// Platforms lists every supported platform.
var Platforms = []Platform{PlatformTwitter, PlatformLinkedIn, PlatformInstagram, PlatformFacebook}

// ParsePlatform validates a raw platform name.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformTwitter, PlatformLinkedIn, PlatformInstagram, PlatformFacebook:
		return Platform(s), nil
	}
	return "", errors.ValidationError("unsupported platform").WithContext("platform", s)
}

// OAuth2Credentials holds an expiring credential set. ExpiresAt is Unix
// seconds; zero means the credentials carry no known expiry.
type OAuth2Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`

	// Instagram business accounts are discovered during the exchange and
	// needed for every later Graph API call.
	AccountID string `json:"account_id,omitempty"`
	Username  string `json:"username,omitempty"`
}

// OAuth1Credentials holds classic credentials that never expire. Twitter is
// the only platform with this scheme; the credentials are required for media
// upload endpoints that predate OAuth2.
type OAuth1Credentials struct {
	AccessToken       string `json:"access_token"`
	AccessTokenSecret string `json:"access_token_secret"`
}

// Record is the stored credential set for one (user, platform) pair.
// Twitter records may carry both schemes; every other platform uses OAuth2
// only. A record is always written whole: merging schemes is the writer's
// job before the single encrypted write.
type Record struct {
	UserID   string             `json:"user_id"`
	Platform Platform           `json:"platform"`
	OAuth1   *OAuth1Credentials `json:"oauth1,omitempty"`
	OAuth2   *OAuth2Credentials `json:"oauth2,omitempty"`
}

// Validate checks that the record's scheme shape is legal for its platform.
func (r *Record) Validate() error {
	if r.UserID == "" {
		return errors.ValidationError("user_id is required")
	}
	if _, err := ParsePlatform(string(r.Platform)); err != nil {
		return err
	}

	switch r.Platform {
	case PlatformTwitter:
		if r.OAuth1 == nil && r.OAuth2 == nil {
			return errors.ValidationError("twitter record requires oauth1 or oauth2 credentials")
		}
	default:
		if r.OAuth2 == nil {
			return errors.ValidationError("record requires oauth2 credentials").
				WithContext("platform", r.Platform)
		}
		if r.OAuth1 == nil {
			break
		}
		return errors.ValidationError("oauth1 credentials are only valid for twitter").
			WithContext("platform", r.Platform)
	}
	return nil
}

// State describes where a record sits in its refresh lifecycle.
type State int

const (
	// StateFresh means the credentials are usable and outside any lookahead window.
	StateFresh State = iota
	// StateNearExpiry means the credentials still work but fall inside the
	// proactive-refresh lookahead window.
	StateNearExpiry
	// StateExpired means the credentials are past their expiry.
	StateExpired
	// StateUnrefreshable means the credentials are stale and no refresh
	// path exists; the user must re-authorize.
	StateUnrefreshable
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateNearExpiry:
		return "near_expiry"
	case StateExpired:
		return "expired"
	case StateUnrefreshable:
		return "unrefreshable"
	default:
		return "unknown"
	}
}

// expiringCredentials returns the credential set whose expiry governs the
// record, or nil when nothing in the record can expire (twitter records
// holding only classic credentials).
func (r *Record) expiringCredentials() *OAuth2Credentials {
	return r.OAuth2
}

// Staleness evaluates the record at now with the given proactive-refresh
// lookahead, applying each platform's expiry convention:
//
//   - twitter: only the OAuth2 scheme expires; a twitter record with no
//     OAuth2 scheme never goes stale. An OAuth2 scheme missing expires_at is
//     treated as expired, matching the provider's short-lived tokens.
//   - linkedin: a record missing expires_at is treated as expired.
//   - instagram, facebook: a record missing expires_at is treated as valid;
//     these are 60-day tokens whose expiry is not always reported.
func (r *Record) Staleness(now time.Time, lookahead time.Duration) State {
	creds := r.expiringCredentials()
	if creds == nil {
		return StateFresh
	}

	if creds.ExpiresAt == 0 {
		switch r.Platform {
		case PlatformInstagram, PlatformFacebook:
			return StateFresh
		default:
			return r.expiredState()
		}
	}

	expiry := time.Unix(creds.ExpiresAt, 0)
	switch {
	case !now.Before(expiry):
		return r.expiredState()
	case now.Add(lookahead).After(expiry):
		if r.Refreshable() {
			return StateNearExpiry
		}
		return StateFresh // not worth flagging early when nothing can be done
	default:
		return StateFresh
	}
}

func (r *Record) expiredState() State {
	if r.Refreshable() {
		return StateExpired
	}
	return StateUnrefreshable
}

// Refreshable reports whether the record carries enough material to attempt
// a refresh. Twitter and LinkedIn need a refresh token; Facebook and
// Instagram exchange the current access token for a new long-lived one.
func (r *Record) Refreshable() bool {
	creds := r.expiringCredentials()
	if creds == nil {
		return false
	}
	switch r.Platform {
	case PlatformFacebook, PlatformInstagram:
		return creds.AccessToken != ""
	default:
		return creds.RefreshToken != ""
	}
}

// Merge returns a copy of the record with fresh credentials applied,
// preserving sibling schemes the refresh did not touch. Refreshing
// twitter's OAuth2 scheme must never discard the classic OAuth1
// credentials stored alongside it.
func (r *Record) Merge(fresh *Record) *Record {
	merged := &Record{
		UserID:   r.UserID,
		Platform: r.Platform,
		OAuth1:   r.OAuth1,
		OAuth2:   r.OAuth2,
	}
	if fresh.OAuth1 != nil {
		merged.OAuth1 = fresh.OAuth1
	}
	if fresh.OAuth2 != nil {
		merged.OAuth2 = fresh.OAuth2
	}
	return merged
}
