// Package refresh serializes token refreshes. The orchestrator holds a
// per-(user, platform) lock across the whole check-then-refresh-then-store
// sequence so racing callers see exactly one provider refresh, and the
// sweeper proactively refreshes records approaching expiry on a schedule.
package refresh

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"social-oauth/internal/common/errors"
	"social-oauth/internal/common/logging"
	"social-oauth/internal/platform"
	"social-oauth/internal/ratelimit"
	"social-oauth/internal/store"
	"social-oauth/internal/tokens"
)

// DefaultLookahead is the proactive-refresh window: records expiring within
// it are refreshed before callers ever see a stale token.
const DefaultLookahead = time.Hour

// lockShardCount sizes the sharded lock table. Many enough that unrelated
// keys rarely collide; a collision only serializes two refreshes that would
// otherwise run in parallel, never breaks exclusivity.
const lockShardCount = 1024

// lockTable maps each (user, platform) key onto a fixed shard of mutexes.
// The memory footprint is constant no matter how many keys are touched, and
// a key always resolves to the same mutex, so a lock held across a slow
// provider call can never be orphaned by eviction.
type lockTable struct {
	shards [lockShardCount]sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{}
}

func (t *lockTable) get(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &t.shards[h.Sum32()%lockShardCount]
}

// Orchestrator owns the refresh lifecycle for every stored record.
type Orchestrator struct {
	manager   *tokens.Manager
	store     *store.TokenStore
	clients   map[tokens.Platform]platform.Client
	limiters  map[tokens.Platform]ratelimit.Limiter
	hook      *NotificationHook
	logger    logging.Logger
	locks     *lockTable
	lookahead time.Duration
	now       func() time.Time
}

// NewOrchestrator wires the orchestrator. clients and limiters are keyed by
// platform; hook may be nil when no notification endpoint is configured.
func NewOrchestrator(
	manager *tokens.Manager,
	tokenStore *store.TokenStore,
	clients map[tokens.Platform]platform.Client,
	limiters map[tokens.Platform]ratelimit.Limiter,
	hook *NotificationHook,
	logger logging.Logger,
) *Orchestrator {
	return &Orchestrator{
		manager:   manager,
		store:     tokenStore,
		clients:   clients,
		limiters:  limiters,
		hook:      hook,
		logger:    logger.WithFields(logging.Field{Key: "component", Value: "refresh"}),
		locks:     newLockTable(),
		lookahead: DefaultLookahead,
		now:       time.Now,
	}
}

// SetLookahead overrides the proactive-refresh window. Call before any
// traffic; the field is not synchronized.
func (o *Orchestrator) SetLookahead(d time.Duration) {
	if d > 0 {
		o.lookahead = d
	}
}

func lockKey(userID string, p tokens.Platform) string {
	return userID + "\x00" + string(p)
}

// GetValidToken returns a usable record for (userID, platform), refreshing
// it under the per-key lock when stale. The result is nil when the user has
// never authorized, when the record is expired and cannot be refreshed, or
// when the refresh attempt fails; provider failures never propagate as
// fatal errors to the caller's request path.
func (o *Orchestrator) GetValidToken(ctx context.Context, userID string, p tokens.Platform, apiKey string) (*tokens.Record, error) {
	mu := o.locks.get(lockKey(userID, p))
	mu.Lock()
	defer mu.Unlock()

	record, err := o.manager.Get(p, userID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	if apiKey != "" {
		ok, err := o.store.VerifyUserAPIKey(userID, string(p), apiKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.AuthError("api key does not match the stored key for this user and platform")
		}
	}

	switch record.Staleness(o.now(), o.lookahead) {
	case tokens.StateFresh:
		return record, nil

	case tokens.StateNearExpiry:
		refreshed, err := o.refreshLocked(ctx, record)
		if err != nil {
			// Still inside its validity window; the current record is
			// usable while the sweeper or a later call retries.
			o.logRefreshFailure(record, err)
			return record, nil
		}
		return refreshed, nil

	case tokens.StateExpired:
		refreshed, err := o.refreshLocked(ctx, record)
		if err != nil {
			o.logRefreshFailure(record, err)
			return nil, nil
		}
		return refreshed, nil

	default: // StateUnrefreshable
		o.logger.Info("token requires re-authorization",
			logging.String("user_id", userID),
			logging.String("platform", string(p)))
		return nil, nil
	}
}

// StoreAuthorized persists a freshly exchanged record under the same
// per-key lock the refresh path uses, so a callback write can never race a
// proactive refresh for the same key. An existing record's sibling schemes
// survive the write.
func (o *Orchestrator) StoreAuthorized(_ context.Context, record *tokens.Record) (*tokens.Record, error) {
	mu := o.locks.get(lockKey(record.UserID, record.Platform))
	mu.Lock()
	defer mu.Unlock()

	current, err := o.manager.Get(record.Platform, record.UserID)
	if err != nil && !tokens.IsDecryptionFailure(err) {
		return nil, err
	}

	merged := record
	if current != nil {
		merged = current.Merge(record)
	}
	if err := o.manager.Store(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Revoke deletes the record under the per-key lock; idempotent.
func (o *Orchestrator) Revoke(_ context.Context, userID string, p tokens.Platform) error {
	mu := o.locks.get(lockKey(userID, p))
	mu.Lock()
	defer mu.Unlock()
	return o.manager.Delete(p, userID)
}

// refreshLocked performs one provider refresh. Caller holds the per-key
// lock; holding it across the network call is the point — it is exactly the
// section needing mutual exclusion.
func (o *Orchestrator) refreshLocked(ctx context.Context, record *tokens.Record) (*tokens.Record, error) {
	client, ok := o.clients[record.Platform]
	if !ok {
		return nil, errors.ConfigError("platform is not configured").
			WithContext("platform", record.Platform)
	}

	fragment, err := client.Refresh(ctx, record)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeRateLimit) {
			// Clear the window so the next attempt recomputes instead of
			// hammering a provider that just said slow down.
			if limiter, ok := o.limiters[record.Platform]; ok {
				limiter.Reset("refresh")
			}
		}
		return nil, err
	}

	merged := record.Merge(fragment)
	if err := o.manager.Store(merged); err != nil {
		return nil, err
	}

	o.logger.Info("token refreshed",
		logging.String("user_id", merged.UserID),
		logging.String("platform", string(merged.Platform)))

	if o.hook != nil {
		o.hook.NotifyExpiry(ctx, merged)
	}
	return merged, nil
}

func (o *Orchestrator) logRefreshFailure(record *tokens.Record, err error) {
	o.logger.Warn("token refresh failed",
		logging.String("user_id", record.UserID),
		logging.String("platform", string(record.Platform)),
		logging.Err(err))
}
