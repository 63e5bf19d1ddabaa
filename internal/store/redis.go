package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	hostpool "github.com/bitly/go-hostpool"
	"github.com/go-redis/redis"
	"github.com/rs/zerolog/log"
)

// channel prefix keeps pub/sub notifications apart from other users of the
// same redis deployment
const redisChannelPrefix = "carolsync:"

// RedisStore keeps values as plain keys and announces every write on a
// pub/sub channel named after the path, so subscribers see changes without
// polling. With more than one endpoint configured, each operation picks a
// host through a hostpool and marks it with the outcome.
type RedisStore struct {
	pool    hostpool.HostPool
	clients map[string]*redis.Client

	mu     sync.Mutex
	closed bool
}

// NewRedisStore connects to the given endpoints. At least one endpoint must
// answer a PING or ErrBackendUnavailable is returned.
func NewRedisStore(addrs []string, password string) (*RedisStore, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no redis endpoints configured", ErrBackendUnavailable)
	}

	clients := make(map[string]*redis.Client, len(addrs))
	reachable := false
	var lastErr error
	for _, addr := range addrs {
		c := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		})
		clients[addr] = c
		if err := c.Ping().Err(); err != nil {
			lastErr = err
			log.Warn().Str("addr", addr).Err(err).Msg("redis endpoint unreachable")
			continue
		}
		reachable = true
	}
	if !reachable {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, lastErr)
	}

	return &RedisStore{
		pool:    hostpool.New(addrs),
		clients: clients,
	}, nil
}

// pick selects a client for one operation. The returned mark function must
// be called with the operation's result.
func (s *RedisStore) pick() (*redis.Client, func(error)) {
	hr := s.pool.Get()
	return s.clients[hr.Host()], hr.Mark
}

func (s *RedisStore) Write(ctx context.Context, path string, data []byte) error {
	c, mark := s.pick()
	err := c.Set(path, data, 0).Err()
	if err == nil {
		err = c.Publish(redisChannelPrefix+path, string(data)).Err()
	}
	mark(err)
	return err
}

func (s *RedisStore) Read(ctx context.Context, path string) ([]byte, bool, error) {
	c, mark := s.pick()
	v, err := c.Get(path).Result()
	if err == redis.Nil {
		mark(nil)
		return nil, false, nil
	}
	mark(err)
	if err != nil {
		return nil, false, err
	}
	return []byte(v), true, nil
}

func (s *RedisStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	c, mark := s.pick()
	keys, err := c.Keys(prefix + "/*").Result()
	mark(err)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		child := childKey(prefix, key)
		if child == "" {
			continue
		}
		v, err := c.Get(key).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, err
		}
		out[child] = []byte(v)
	}
	return out, nil
}

func (s *RedisStore) Subscribe(path string, fn func(Event)) (UnsubscribeFunc, error) {
	c, mark := s.pick()
	ps := c.PSubscribe(redisChannelPrefix+path, redisChannelPrefix+path+"/*")
	if _, err := ps.Receive(); err != nil {
		mark(err)
		ps.Close()
		return nil, err
	}
	mark(nil)

	// initial delivery from a snapshot read, per the subscribe contract
	if v, ok, err := s.Read(context.Background(), path); err == nil && ok {
		fn(Event{Path: path, Data: v})
	}
	if children, err := s.List(context.Background(), path); err == nil {
		for child, v := range children {
			fn(Event{Path: path + "/" + child, Data: v})
		}
	}

	go func() {
		for msg := range ps.Channel() {
			fn(Event{
				Path: strings.TrimPrefix(msg.Channel, redisChannelPrefix),
				Data: []byte(msg.Payload),
			})
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := ps.Close(); err != nil {
				log.Warn().Err(err).Msg("closing redis subscription")
			}
		})
	}, nil
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pool.Close()
	var firstErr error
	for _, c := range s.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
