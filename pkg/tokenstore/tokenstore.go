// Package tokenstore holds the bearer token and the cached user record for
// one browser client.
package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/realleaders/portal/pkg/identity"
	"github.com/realleaders/portal/pkg/kvstore"
	"github.com/realleaders/portal/pkg/observability"
)

// Persisted keys
const (
	KeyAuthToken       = "auth_token"
	KeyUserData        = "user_data"
	KeyUserID          = "user_id"
	KeyUsername        = "username"
	KeyUserProfile     = "user_profile"
	KeyUserSettings    = "user_settings"
	KeyUserPreferences = "user_preferences"
)

// SessionKeys are removed by Clear
var SessionKeys = []string{
	KeyAuthToken,
	KeyUserData,
	KeyUserID,
	KeyUsername,
	KeyUserProfile,
	KeyUserSettings,
	KeyUserPreferences,
}

// userKeys are the cached user mirrors, dropped whenever the identity changes
var userKeys = SessionKeys[1:]

// Store is the token store view of one tab
type Store struct {
	kv      *kvstore.Store
	metrics *observability.Metrics
}

// New wraps kv
func New(kv *kvstore.Store, metrics *observability.Metrics) *Store {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &Store{kv: kv, metrics: metrics}
}

// Get returns the stored token. ok is false when no token is stored.
func (s *Store) Get(ctx context.Context) (token string, ok bool, err error) {
	token, err = s.kv.Get(ctx, KeyAuthToken)
	if errors.Is(err, kvstore.ErrNotFound) {
		s.observe("get", nil)
		return "", false, nil
	}
	s.observe("get", err)
	if err != nil {
		return "", false, err
	}
	return token, token != "", nil
}

// Set stores a token for a possibly different user. The cached user record
// is dropped first so it can never be attributed to the new token.
func (s *Store) Set(ctx context.Context, token string) error {
	if err := s.kv.Delete(ctx, userKeys...); err != nil {
		s.observe("set", err)
		return fmt.Errorf("failed to drop cached user: %w", err)
	}
	return s.write(ctx, "set", token)
}

// Rotate overwrites the token for the same user, keeping the cached record
func (s *Store) Rotate(ctx context.Context, token string) error {
	return s.write(ctx, "rotate", token)
}

func (s *Store) write(ctx context.Context, op, token string) error {
	err := s.kv.Set(ctx, KeyAuthToken, token)
	s.observe(op, err)
	if err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// Clear removes the token and every cached user key
func (s *Store) Clear(ctx context.Context) error {
	err := s.kv.Delete(ctx, SessionKeys...)
	s.observe("clear", err)
	if err != nil {
		return fmt.Errorf("failed to clear session keys: %w", err)
	}
	return nil
}

// CacheUser stores user as the cached record with its id and username mirrors
func (s *Store) CacheUser(ctx context.Context, user identity.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	values := map[string]string{
		KeyUserData: string(data),
		KeyUserID:   strconv.FormatInt(user.ID, 10),
		KeyUsername: user.Username,
	}
	for key, section := range map[string]map[string]any{
		KeyUserProfile:     user.Profile,
		KeyUserSettings:    user.Settings,
		KeyUserPreferences: user.Preferences,
	} {
		if section == nil {
			continue
		}
		encoded, err := json.Marshal(section)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", key, err)
		}
		values[key] = string(encoded)
	}

	for key, value := range values {
		if err := s.kv.Set(ctx, key, value); err != nil {
			s.observe("cache_user", err)
			return fmt.Errorf("failed to cache %s: %w", key, err)
		}
	}
	s.observe("cache_user", nil)
	return nil
}

// CachedUser returns the cached record. ok is false when nothing usable is cached.
func (s *Store) CachedUser(ctx context.Context) (user *identity.User, ok bool, err error) {
	data, err := s.kv.Get(ctx, KeyUserData)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var u identity.User
	if err := json.Unmarshal([]byte(data), &u); err != nil {
		// A corrupt cache is treated as a miss
		return nil, false, nil
	}
	return &u, true, nil
}

// OnExternalChange calls fn with the new token (empty when removed) whenever
// another view changes it.
func (s *Store) OnExternalChange(fn func(token string)) (cancel func()) {
	return s.kv.OnExternalChange(func(c kvstore.Change) {
		if c.Key != KeyAuthToken {
			return
		}
		if c.Deleted {
			fn("")
			return
		}
		fn(c.Value)
	})
}

func (s *Store) observe(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.StorageOperationsTotal.WithLabelValues(op, status).Inc()
}
