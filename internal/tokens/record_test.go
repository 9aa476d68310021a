package tokens

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlatform(t *testing.T) {
	for _, p := range Platforms {
		got, err := ParsePlatform(string(p))
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := ParsePlatform("myspace")
	assert.Error(t, err)
}

func TestRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		record  Record
		wantErr bool
	}{
		{
			name:   "linkedin with oauth2",
			record: Record{UserID: "u1", Platform: PlatformLinkedIn, OAuth2: &OAuth2Credentials{AccessToken: "A"}},
		},
		{
			name:    "linkedin without oauth2",
			record:  Record{UserID: "u1", Platform: PlatformLinkedIn},
			wantErr: true,
		},
		{
			name:    "linkedin with oauth1",
			record:  Record{UserID: "u1", Platform: PlatformLinkedIn, OAuth1: &OAuth1Credentials{}, OAuth2: &OAuth2Credentials{}},
			wantErr: true,
		},
		{
			name:   "twitter with only oauth1",
			record: Record{UserID: "u1", Platform: PlatformTwitter, OAuth1: &OAuth1Credentials{AccessToken: "A", AccessTokenSecret: "S"}},
		},
		{
			name:   "twitter with both schemes",
			record: Record{UserID: "u1", Platform: PlatformTwitter, OAuth1: &OAuth1Credentials{}, OAuth2: &OAuth2Credentials{}},
		},
		{
			name:    "twitter with neither scheme",
			record:  Record{UserID: "u1", Platform: PlatformTwitter},
			wantErr: true,
		},
		{
			name:    "missing user id",
			record:  Record{Platform: PlatformFacebook, OAuth2: &OAuth2Credentials{}},
			wantErr: true,
		},
		{
			name:    "unknown platform",
			record:  Record{UserID: "u1", Platform: "myspace", OAuth2: &OAuth2Credentials{}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStaleness(t *testing.T) {
	now := time.Now()
	lookahead := time.Hour

	tests := []struct {
		name   string
		record Record
		want   State
	}{
		{
			name: "twitter oauth1 only never expires",
			record: Record{UserID: "u", Platform: PlatformTwitter,
				OAuth1: &OAuth1Credentials{AccessToken: "A", AccessTokenSecret: "S"}},
			want: StateFresh,
		},
		{
			name: "twitter oauth2 far from expiry",
			record: Record{UserID: "u", Platform: PlatformTwitter,
				OAuth2: &OAuth2Credentials{AccessToken: "A", RefreshToken: "R", ExpiresAt: now.Add(48 * time.Hour).Unix()}},
			want: StateFresh,
		},
		{
			name: "twitter oauth2 inside lookahead",
			record: Record{UserID: "u", Platform: PlatformTwitter,
				OAuth2: &OAuth2Credentials{AccessToken: "A", RefreshToken: "R", ExpiresAt: now.Add(30 * time.Minute).Unix()}},
			want: StateNearExpiry,
		},
		{
			name: "twitter oauth2 expired with refresh token",
			record: Record{UserID: "u", Platform: PlatformTwitter,
				OAuth2: &OAuth2Credentials{AccessToken: "A", RefreshToken: "R", ExpiresAt: now.Add(-time.Minute).Unix()}},
			want: StateExpired,
		},
		{
			name: "twitter oauth2 expired without refresh token",
			record: Record{UserID: "u", Platform: PlatformTwitter,
				OAuth2: &OAuth2Credentials{AccessToken: "A", ExpiresAt: now.Add(-time.Minute).Unix()}},
			want: StateUnrefreshable,
		},
		{
			name: "twitter oauth2 missing expiry treated as expired",
			record: Record{UserID: "u", Platform: PlatformTwitter,
				OAuth2: &OAuth2Credentials{AccessToken: "A", RefreshToken: "R"}},
			want: StateExpired,
		},
		{
			name: "linkedin missing expiry treated as expired",
			record: Record{UserID: "u", Platform: PlatformLinkedIn,
				OAuth2: &OAuth2Credentials{AccessToken: "A", RefreshToken: "R"}},
			want: StateExpired,
		},
		{
			name: "facebook missing expiry treated as valid",
			record: Record{UserID: "u", Platform: PlatformFacebook,
				OAuth2: &OAuth2Credentials{AccessToken: "A"}},
			want: StateFresh,
		},
		{
			name: "instagram missing expiry treated as valid",
			record: Record{UserID: "u", Platform: PlatformInstagram,
				OAuth2: &OAuth2Credentials{AccessToken: "A"}},
			want: StateFresh,
		},
		{
			name: "facebook expired refreshes via access token",
			record: Record{UserID: "u", Platform: PlatformFacebook,
				OAuth2: &OAuth2Credentials{AccessToken: "A", ExpiresAt: now.Add(-time.Minute).Unix()}},
			want: StateExpired,
		},
		{
			name: "near expiry without refresh path stays fresh",
			record: Record{UserID: "u", Platform: PlatformLinkedIn,
				OAuth2: &OAuth2Credentials{AccessToken: "A", ExpiresAt: now.Add(30 * time.Minute).Unix()}},
			want: StateFresh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.Staleness(now, lookahead))
		})
	}
}

func TestMergePreservesSiblingScheme(t *testing.T) {
	oauth1 := &OAuth1Credentials{AccessToken: "classic", AccessTokenSecret: "classic-secret"}
	current := Record{
		UserID:   "u1",
		Platform: PlatformTwitter,
		OAuth1:   oauth1,
		OAuth2:   &OAuth2Credentials{AccessToken: "old", RefreshToken: "r-old", ExpiresAt: 100},
	}

	before, err := json.Marshal(current.OAuth1)
	require.NoError(t, err)

	fresh := Record{
		UserID:   "u1",
		Platform: PlatformTwitter,
		OAuth2:   &OAuth2Credentials{AccessToken: "new", RefreshToken: "r-new", ExpiresAt: 200},
	}

	merged := current.Merge(&fresh)
	assert.Equal(t, "new", merged.OAuth2.AccessToken)

	after, err := json.Marshal(merged.OAuth1)
	require.NoError(t, err)
	assert.Equal(t, before, after, "oauth1 credentials must survive oauth2 refresh byte-for-byte")
}

func TestMergeWithoutSibling(t *testing.T) {
	current := Record{
		UserID:   "u1",
		Platform: PlatformLinkedIn,
		OAuth2:   &OAuth2Credentials{AccessToken: "old"},
	}
	fresh := Record{
		UserID:   "u1",
		Platform: PlatformLinkedIn,
		OAuth2:   &OAuth2Credentials{AccessToken: "new"},
	}

	merged := current.Merge(&fresh)
	assert.Equal(t, "new", merged.OAuth2.AccessToken)
	assert.Nil(t, merged.OAuth1)
}
