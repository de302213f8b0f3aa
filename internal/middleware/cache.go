package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/room-reservation/internal/config"
)

// ResponseStore keeps encoded responses.
type ResponseStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	// Purge drops every entry whose key starts with prefix.
	Purge(ctx context.Context, prefix string) error
}

// RedisResponseStore is a ResponseStore on Redis.
type RedisResponseStore struct{ rdb redis.Cmdable }

func NewRedisResponseStore(rdb redis.Cmdable) *RedisResponseStore {
	return &RedisResponseStore{rdb: rdb}
}

func (s *RedisResponseStore) Load(ctx context.Context, key string) ([]byte, error) {
	return s.rdb.Get(ctx, key).Bytes()
}

func (s *RedisResponseStore) Save(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return s.rdb.SetEx(ctx, key, payload, ttl).Err()
}

func (s *RedisResponseStore) Purge(ctx context.Context, prefix string) error {
	iter := s.rdb.Scan(ctx, 0, prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

// captureWriter tees the body into buf, up to limit bytes.
type captureWriter struct {
	http.ResponseWriter
	status    int
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if !cw.truncated {
		if cw.limit > 0 && int64(cw.buf.Len()+len(b)) > cw.limit {
			cw.truncated = true
		} else {
			cw.buf.Write(b)
		}
	}
	return cw.ResponseWriter.Write(b)
}

func cacheKey(cfg config.CacheConfig, c echo.Context) string {
	r := c.Request()
	var tail []string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "route":
		tail = []string{"route", c.Path()}
	case "method_route":
		tail = []string{"method", r.Method, "route", c.Path()}
	case "method_route_query":
		tail = []string{"method", r.Method, "route", c.Path(), "q", r.URL.RawQuery}
	default:
		tail = []string{"route", c.Path(), "q", r.URL.RawQuery}
	}
	sum := sha1.Sum([]byte(strings.Join(tail, ":")))
	return fmt.Sprintf("%s:%x", cfg.Prefix, sum[:])
}

// encodePayload packs [4 bytes status][4 bytes header length][header JSON][body].
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdr, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdr)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdr)))
	copy(out[8:], hdr)
	copy(out[8+len(hdr):], body)
	return out, nil
}

func decodePayload(bs []byte) (int, http.Header, []byte, error) {
	if len(bs) < 8 {
		return 0, nil, nil, errors.New("payload too short")
	}
	status := int(binary.BigEndian.Uint32(bs[0:4]))
	n := int(binary.BigEndian.Uint32(bs[4:8]))
	if n < 0 || 8+n > len(bs) {
		return 0, nil, nil, errors.New("bad header length")
	}
	hdr := make(http.Header)
	if n > 0 {
		if err := json.Unmarshal(bs[8:8+n], &hdr); err != nil {
			return 0, nil, nil, err
		}
	}
	return status, hdr, bs[8+n:], nil
}

// ResponseCache serves repeated catalog reads from store.  Only 200
// responses that fit in MaxBodyBytes are stored.  Availability routes must
// not be wrapped: they are computed from the live ledger.
func ResponseCache(cfg config.CacheConfig, store ResponseStore, log *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || store == nil {
		return passThrough
	}
	if log == nil {
		log = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// only configured methods (GET by default) are cacheable
			if !cfg.Caches(c.Request().Method) {
				return next(c)
			}
			ctx := c.Request().Context()
			key := cacheKey(cfg, c)

			// Hit: replay the stored status, headers and body.  A miss, a
			// Redis error and a corrupt payload all fall through to the
			// handler.
			if bs, err := store.Load(ctx, key); err == nil {
				if status, hdr, body, err := decodePayload(bs); err == nil {
					for k, vals := range hdr {
						// net/http recomputes the length of what we write
						if strings.EqualFold(k, echo.HeaderContentLength) {
							continue
						}
						for _, v := range vals {
							c.Response().Header().Add(k, v)
						}
					}
					c.Response().Header().Set("X-Cache", "HIT")
					c.Response().WriteHeader(status)
					_, _ = c.Response().Write(body)
					return nil
				}
			}

			// Miss: tee the response into a buffer while it streams out.
			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: int64(cfg.MaxBodyBytes)}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			// errors and oversize bodies are never stored
			if cw.status != http.StatusOK || cw.truncated {
				return nil
			}
			hdr := c.Response().Header().Clone()
			hdr.Del("X-Cache")
			payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes())
			if err == nil {
				// the client may already be gone; the entry is still worth saving
				err = store.Save(context.WithoutCancel(ctx), key, payload, ttl)
			}
			if err != nil {
				log.Warn("response cache write failed", zap.String("key", key), zap.Error(err))
			}
			return nil
		}
	}
}
