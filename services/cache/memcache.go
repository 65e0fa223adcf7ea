package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// memcache rejects keys longer than this or containing spaces or control bytes
const maxKeyLength = 250

// MemcacheService implements CacheService using memcache. Keys are namespaced
// so the worker can share a memcache with other services.
type MemcacheService struct {
	client    *memcache.Client
	namespace string
}

// NewMemcacheService creates a memcache service with a short I/O timeout;
// a slow cache must not stall probes
func NewMemcacheService(serverAddr string) *MemcacheService {
	client := memcache.New(serverAddr)
	client.Timeout = 500 * time.Millisecond
	return &MemcacheService{client: client, namespace: "priceworker:"}
}

// Ping checks that every configured server answers
func (m *MemcacheService) Ping() error {
	return m.client.Ping()
}

func (m *MemcacheService) key(key string) string {
	full := m.namespace + key
	if len(full) <= maxKeyLength && validKey(full) {
		return full
	}
	sum := sha1.Sum([]byte(key))
	return m.namespace + hex.EncodeToString(sum[:])
}

func validKey(key string) bool {
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}

// Get returns memcache.ErrCacheMiss for absent keys
func (m *MemcacheService) Get(key string) ([]byte, error) {
	item, err := m.client.Get(m.key(key))
	if err != nil {
		return nil, err
	}
	return item.Value, nil
}

func (m *MemcacheService) Set(key string, value []byte, expiration time.Duration) error {
	return m.client.Set(&memcache.Item{
		Key:        m.key(key),
		Value:      value,
		Expiration: int32(expiration.Seconds()),
	})
}

// Delete returns memcache.ErrCacheMiss for absent keys
func (m *MemcacheService) Delete(key string) error {
	return m.client.Delete(m.key(key))
}
