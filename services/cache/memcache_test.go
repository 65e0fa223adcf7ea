package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// This test requires a running memcached instance
// If memcached is not available, the test will be skipped
func TestMemcacheService(t *testing.T) {
	mc := NewMemcacheService("localhost:11211")
	if err := mc.Ping(); err != nil {
		t.Skip("Memcached is not available, skipping test")
	}

	// Set a value
	err := mc.Set("29cm_rate_limited", []byte("500"), 1*time.Second)
	assert.NoError(t, err)

	// Get the value
	value, err := mc.Get("29cm_rate_limited")
	assert.NoError(t, err)
	assert.Equal(t, "500", string(value))

	// Delete the value
	err = mc.Delete("29cm_rate_limited")
	assert.NoError(t, err)

	// Try to get the deleted value
	_, err = mc.Get("29cm_rate_limited")
	assert.Error(t, err)
}

func TestJSONHelpers(t *testing.T) {
	mc := NewMemoryService()
	type preview struct {
		SiteKey string `json:"site_key"`
		Price   string `json:"price"`
	}

	require.NoError(t, SetJSON(mc, "preview_abc", preview{SiteKey: "ohou", Price: "129,000"}, time.Minute))

	var got preview
	require.NoError(t, GetJSON(mc, "preview_abc", &got))
	assert.Equal(t, "ohou", got.SiteKey)
	assert.Equal(t, "129,000", got.Price)

	assert.Error(t, GetJSON(mc, "missing", &got))
}

func TestMemcacheKeys(t *testing.T) {
	mc := NewMemcacheService("localhost:11211")

	assert.Equal(t, "priceworker:29cm_rate_limited", mc.key("29cm_rate_limited"))

	// spaces and oversized keys are hashed into a valid key
	spaced := mc.key("preview https://ohou.se/productions/1/selling")
	assert.True(t, validKey(spaced))
	assert.Len(t, spaced, len("priceworker:")+40)

	long := mc.key(strings.Repeat("x", 300))
	assert.LessOrEqual(t, len(long), maxKeyLength)
	assert.Equal(t, long, mc.key(strings.Repeat("x", 300)))
}
