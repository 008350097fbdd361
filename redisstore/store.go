// Package redisstore keeps transaction metadata in Redis so that processes
// sharing a database can share one context store.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mickamy/auditlog"
)

const (
	defaultPrefix = "auditlog:ctx:"
	defaultTTL    = time.Hour
)

// Store implements auditlog.ContextStore on top of Redis.
//
// Entries expire after the configured TTL so that a transaction whose Clear
// never ran (crashed process) does not leak its entry.
type Store struct {
	client goredis.Cmdable
	prefix string
	ttl    time.Duration
}

var _ auditlog.ContextStore = (*Store)(nil)

type Option func(*Store)

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func New(client goredis.Cmdable, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("redisstore: client is required")
	}
	s := &Store{client: client, prefix: defaultPrefix, ttl: defaultTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) key(txID string) string {
	return s.prefix + txID
}

func (s *Store) Set(ctx context.Context, txID string, info auditlog.Info) error {
	if txID == "" {
		return errors.New("redisstore: empty transaction id")
	}
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("redisstore: encode context: %w", err)
	}
	if err := s.client.Set(ctx, s.key(txID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: set context: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, txID string) (auditlog.Info, bool, error) {
	payload, err := s.client.Get(ctx, s.key(txID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return auditlog.Info{}, false, nil
	}
	if err != nil {
		return auditlog.Info{}, false, fmt.Errorf("redisstore: get context: %w", err)
	}
	var info auditlog.Info
	if err := json.Unmarshal(payload, &info); err != nil {
		return auditlog.Info{}, false, fmt.Errorf("redisstore: decode context: %w", err)
	}
	return info, true, nil
}

func (s *Store) Clear(ctx context.Context, txID string) error {
	if err := s.client.Del(ctx, s.key(txID)).Err(); err != nil {
		return fmt.Errorf("redisstore: clear context: %w", err)
	}
	return nil
}
