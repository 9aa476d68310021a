package platform

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"social-oauth/internal/common/errors"
	"social-oauth/internal/tokens"
)

// oauth1Signer produces OAuth 1.0a HMAC-SHA1 signatures and Authorization
// headers (RFC 5849). Twitter's classic flow and media endpoints still
// require it.
type oauth1Signer struct {
	consumerKey    string
	consumerSecret string
	now            func() time.Time
}

// percentEncode applies RFC 3986 encoding. url.QueryEscape is close but
// turns spaces into '+', which breaks signature base strings.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func (s *oauth1Signer) nonce() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// sign computes the signature over method, endpoint and the combined
// oauth/request parameters, keyed by consumer secret and token secret.
func (s *oauth1Signer) sign(method, endpoint string, params map[string]string, tokenSecret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(params[k]))
	}

	base := strings.ToUpper(method) + "&" + percentEncode(endpoint) + "&" + percentEncode(strings.Join(pairs, "&"))
	key := percentEncode(s.consumerSecret) + "&" + percentEncode(tokenSecret)

	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// authorizationHeader builds the OAuth header for one signed request.
// extra carries leg-specific parameters (oauth_callback, oauth_token,
// oauth_verifier) that participate in the signature.
func (s *oauth1Signer) authorizationHeader(method, endpoint string, extra map[string]string, tokenSecret string) string {
	params := map[string]string{
		"oauth_consumer_key":     s.consumerKey,
		"oauth_nonce":            s.nonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        fmt.Sprintf("%d", s.now().Unix()),
		"oauth_version":          "1.0",
	}
	for k, v := range extra {
		params[k] = v
	}
	params["oauth_signature"] = s.sign(method, endpoint, params, tokenSecret)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf(`%s="%s"`, percentEncode(k), percentEncode(params[k])))
	}
	return "OAuth " + strings.Join(pairs, ", ")
}

// requestToken performs the signed POST that opens a classic flow leg,
// returning the temporary token pair. callback_confirmed=false means the
// application's callback URL is not registered with the provider.
func (s *oauth1Signer) requestToken(ctx context.Context, client *http.Client, endpoint, callbackURL string) (token, secret string, err error) {
	header := s.authorizationHeader(http.MethodPost, endpoint, map[string]string{
		"oauth_callback": callbackURL,
	}, "")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", "", errors.InternalError("failed to build request token call", err)
	}
	req.Header.Set("Authorization", header)

	resp, err := client.Do(req)
	if err != nil {
		return "", "", errors.ProviderError(string(tokens.PlatformTwitter), 0, "request token call failed")
	}
	values, err := readOAuth1Body(resp)
	if err != nil {
		return "", "", err
	}
	if values.Get("oauth_callback_confirmed") != "true" {
		return "", "", errors.ProviderError(string(tokens.PlatformTwitter), resp.StatusCode, "callback URL not confirmed by provider")
	}
	return values.Get("oauth_token"), values.Get("oauth_token_secret"), nil
}

// accessToken performs the signed POST that closes a classic flow leg.
func (s *oauth1Signer) accessToken(ctx context.Context, client *http.Client, endpoint, requestToken, requestSecret, verifier string) (*tokens.OAuth1Credentials, error) {
	header := s.authorizationHeader(http.MethodPost, endpoint, map[string]string{
		"oauth_token":    requestToken,
		"oauth_verifier": verifier,
	}, requestSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, errors.InternalError("failed to build access token call", err)
	}
	req.Header.Set("Authorization", header)

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.ProviderError(string(tokens.PlatformTwitter), 0, "access token call failed")
	}
	values, err := readOAuth1Body(resp)
	if err != nil {
		return nil, err
	}

	creds := &tokens.OAuth1Credentials{
		AccessToken:       values.Get("oauth_token"),
		AccessTokenSecret: values.Get("oauth_token_secret"),
	}
	if creds.AccessToken == "" || creds.AccessTokenSecret == "" {
		return nil, errors.ProviderError(string(tokens.PlatformTwitter), resp.StatusCode, "provider omitted classic credentials")
	}
	return creds, nil
}

// readOAuth1Body parses the form-encoded bodies the classic endpoints
// return instead of JSON.
func readOAuth1Body(resp *http.Response) (url.Values, error) {
	defer resp.Body.Close()

	buf, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, errors.ProviderError(string(tokens.PlatformTwitter), resp.StatusCode, "failed to read classic flow response")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errors.RateLimitError(string(tokens.PlatformTwitter))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.ProviderError(string(tokens.PlatformTwitter), resp.StatusCode,
			fmt.Sprintf("classic flow endpoint returned status %d", resp.StatusCode))
	}

	values, err := url.ParseQuery(string(buf))
	if err != nil {
		return nil, errors.ProviderError(string(tokens.PlatformTwitter), resp.StatusCode, "malformed classic flow response")
	}
	return values, nil
}
