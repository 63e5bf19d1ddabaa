package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// NATSStore keeps values in a JetStream key-value bucket. KV watchers give
// the subscribe contract natively: current values are replayed first, then
// every later write. Slashes in paths are mapped to dots since KV keys are
// subject tokens.
type NATSStore struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewNATSStore connects to the given NATS URL and opens (or creates) the
// named KV bucket.
func NewNATSStore(url, bucket string) (*NATSStore, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
	})
	if err != nil {
		cancel()
		nc.Close()
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return &NATSStore{nc: nc, kv: kv, cancel: cancel}, nil
}

func natsKey(path string) string { return strings.ReplaceAll(path, "/", ".") }
func natsPath(key string) string { return strings.ReplaceAll(key, ".", "/") }

func (s *NATSStore) Write(ctx context.Context, path string, data []byte) error {
	_, err := s.kv.Put(ctx, natsKey(path), data)
	return err
}

func (s *NATSStore) Read(ctx context.Context, path string) ([]byte, bool, error) {
	entry, err := s.kv.Get(ctx, natsKey(path))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

func (s *NATSStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte)
	for key := range lister.Keys() {
		path := natsPath(key)
		child := childKey(prefix, path)
		if child == "" {
			continue
		}
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		out[child] = entry.Value()
	}
	return out, nil
}

func (s *NATSStore) Subscribe(path string, fn func(Event)) (UnsubscribeFunc, error) {
	key := natsKey(path)
	watcher, err := s.kv.WatchFiltered(context.Background(), []string{key, key + ".>"})
	if err != nil {
		return nil, err
	}

	go func() {
		for entry := range watcher.Updates() {
			// nil marks the end of the initial replay
			if entry == nil {
				continue
			}
			if entry.Operation() != jetstream.KeyValuePut {
				continue
			}
			fn(Event{Path: natsPath(entry.Key()), Data: entry.Value()})
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := watcher.Stop(); err != nil {
				log.Warn().Err(err).Msg("stopping nats kv watcher")
			}
		})
	}, nil
}

func (s *NATSStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	s.nc.Close()
	return nil
}
