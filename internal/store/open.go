package store

import "fmt"

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
)

// Config selects and parameterises a backend.
type Config struct {
	Backend       string
	RedisAddrs    []string
	RedisPassword string
	NATSURL       string
	NATSBucket    string
}

// Open constructs the configured backend.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		return NewRedisStore(cfg.RedisAddrs, cfg.RedisPassword)
	case BackendNATS:
		return NewNATSStore(cfg.NATSURL, cfg.NATSBucket)
	default:
		return nil, fmt.Errorf("%w: unsupported backend %q", ErrBackendUnavailable, cfg.Backend)
	}
}
