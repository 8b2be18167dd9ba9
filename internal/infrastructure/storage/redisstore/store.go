// Package redisstore keeps remote-tier documents as Redis string keys.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/infrastructure/storage/document"
	"ArticlesPipeline/internal/ports"
)

const defaultPrefix = "articles"

// Config configures the Redis connection and key namespace.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

var _ ports.DocumentStore = (*Store)(nil)

// Store writes <prefix>:<collection>:<id> keys and tracks ids per collection in a set.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New connects and verifies the server with a ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, prefix string) *Store {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(collection, id string) string {
	return s.prefix + ":" + collection + ":" + id
}

func (s *Store) indexKey(collection string) string {
	return s.prefix + ":" + collection + ":_ids"
}

// Get returns the stored document.
func (s *Store) Get(ctx context.Context, collection, id string) ([]byte, error) {
	doc, err := s.client.Get(ctx, s.key(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// Set writes the document and its id index entry atomically.
func (s *Store) Set(ctx context.Context, collection, id string, doc []byte) error {
	if !document.Valid(doc) {
		return fmt.Errorf("set %s/%s: invalid json", collection, id)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(collection, id), doc, 0)
		pipe.SAdd(ctx, s.indexKey(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update patches the document under WATCH so concurrent writers retry instead of clobbering.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	key := s.key(collection, id)
	txf := func(tx *redis.Tx) error {
		doc, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%s/%s: %w", collection, id, domain.ErrNotFound)
		}
		if err != nil {
			return err
		}
		patched, err := document.Patch(doc, fields)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, patched, 0)
			return nil
		})
		return err
	}

	const maxRetries = 3
	for range maxRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return err
			}
			return fmt.Errorf("update %s/%s: %w", collection, id, err)
		}
		return nil
	}
	return fmt.Errorf("update %s/%s: too many concurrent writers", collection, id)
}

// Delete removes the document and its index entry.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(collection, id))
		pipe.SRem(ctx, s.indexKey(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Query reads every indexed document of the collection and filters client-side.
func (s *Store) Query(ctx context.Context, collection string, filters ...ports.Filter) ([][]byte, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(collection, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget %s: %w", collection, err)
	}

	var out [][]byte
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		doc := []byte(raw)
		if document.Matches(doc, filters...) {
			out = append(out, doc)
		}
	}
	return out, nil
}
