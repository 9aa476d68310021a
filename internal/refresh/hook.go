package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"social-oauth/internal/common/logging"
	"social-oauth/internal/tokens"
)

// NotificationHook tells an external tracking service about new expiry
// timestamps after a refresh. Strictly best-effort: every failure is logged
// and swallowed, a refresh never fails because the hook is down.
type NotificationHook struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   logging.Logger
}

// NewNotificationHook builds a hook targeting endpoint, authenticating with
// apiKey via the x-api-key header.
func NewNotificationHook(endpoint, apiKey string, logger logging.Logger) *NotificationHook {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &NotificationHook{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   rc.StandardClient(),
		logger:   logger.WithFields(logging.Field{Key: "component", Value: "notification-hook"}),
	}
}

type expiryNotice struct {
	UserID          string `json:"user_id"`
	Platform        string `json:"platform"`
	TokenExpiration int64  `json:"token_expiration,omitempty"`
}

// NotifyExpiry posts the record's new expiry. No secrets leave the process:
// the payload carries identity and timestamp only.
func (h *NotificationHook) NotifyExpiry(ctx context.Context, record *tokens.Record) {
	notice := expiryNotice{
		UserID:   record.UserID,
		Platform: string(record.Platform),
	}
	if record.OAuth2 != nil {
		notice.TokenExpiration = record.OAuth2.ExpiresAt
	}

	body, err := json.Marshal(notice)
	if err != nil {
		h.logger.Warn("failed to encode expiry notice", logging.Err(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		h.logger.Warn("failed to build expiry notice request", logging.Err(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", h.apiKey)

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Warn("expiry notice delivery failed",
			logging.String("user_id", record.UserID),
			logging.String("platform", string(record.Platform)),
			logging.Err(err))
		return
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.logger.Warn("expiry notice rejected",
			logging.String("user_id", record.UserID),
			logging.String("platform", string(record.Platform)),
			logging.Int("status", resp.StatusCode))
	}
}
