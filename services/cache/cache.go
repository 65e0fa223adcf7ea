package cache

import (
	"encoding/json"
	"time"
)

// CacheService represents a generic cache service
type CacheService interface {
	// Get retrieves a value from the cache
	Get(key string) ([]byte, error)

	// Set stores a value in the cache with an expiration time
	Set(key string, value []byte, expiration time.Duration) error

	// Delete removes a value from the cache
	Delete(key string) error
}

// GetJSON loads a JSON encoded value stored under key into v
func GetJSON(svc CacheService, key string, v any) error {
	data, err := svc.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SetJSON stores v under key as JSON
func SetJSON(svc CacheService, key string, v any, expiration time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return svc.Set(key, data, expiration)
}
