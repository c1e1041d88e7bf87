package shared

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Session is the server-side state behind an opaque bearer token.
type Session struct {
	Token     string    `json:"-"`
	UserID    int64     `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore issues and resolves bearer tokens backed by Redis.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue creates a new session for the user and returns it with its token.
func (s *SessionStore) Issue(ctx context.Context, userID int64) (Session, error) {
	now := s.now().UTC()
	sess := Session{
		Token:     generateToken(),
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return Session{}, err
	}
	if err := s.client.Set(ctx, redisKey(sess.Token), data, s.ttl).Err(); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Resolve looks up the session for token. Unknown or expired tokens yield ErrUnauthenticated.
func (s *SessionStore) Resolve(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrUnauthenticated
	}
	payload, err := s.client.Get(ctx, redisKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrUnauthenticated
		}
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return Session{}, err
	}
	if !sess.ExpiresAt.IsZero() && s.now().After(sess.ExpiresAt) {
		return Session{}, ErrUnauthenticated
	}
	sess.Token = token
	return sess, nil
}

// Revoke deletes the session behind token.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, redisKey(token)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// TTL exposes the configured session lifetime.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func redisKey(token string) string {
	return "session:" + token
}

func generateToken() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return base64.RawURLEncoding.EncodeToString([]byte(time.Now().Format(time.RFC3339Nano)))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
