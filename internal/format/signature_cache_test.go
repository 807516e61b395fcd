package format

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignatureCacheRoundTrip(t *testing.T) {
	c := NewSignatureCache(nil)
	c.CacheSignature("toolu_1", "sig-1")
	assert.Equal(t, "sig-1", c.GetCachedSignature("toolu_1"))
	assert.Equal(t, "", c.GetCachedSignature("toolu_missing"))
	assert.Equal(t, "", c.GetCachedSignature(""))

	c.Reset()
	assert.Equal(t, "", c.GetCachedSignature("toolu_1"))
}

func TestSignatureCacheIgnoresEmpty(t *testing.T) {
	c := NewSignatureCache(nil)
	c.CacheSignature("", "sig")
	c.CacheSignature("toolu_1", "")
	assert.Equal(t, "", c.GetCachedSignature("toolu_1"))
}

func TestSignatureCacheExpiry(t *testing.T) {
	c := NewSignatureCache(nil)
	c.memoryCache["toolu_old"] = &signatureEntry{
		Signature: "stale",
		Timestamp: time.Now().Add(-2 * cacheTTL()),
	}

	assert.Equal(t, "", c.GetCachedSignature("toolu_old"))

	c.mu.RLock()
	_, ok := c.memoryCache["toolu_old"]
	c.mu.RUnlock()
	assert.False(t, ok, "expired entry should be evicted")
}

func TestSignatureCacheConcurrentExpiry(t *testing.T) {
	c := NewSignatureCache(nil)
	c.memoryCache["toolu_old"] = &signatureEntry{
		Signature: "stale",
		Timestamp: time.Now().Add(-2 * cacheTTL()),
	}

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Equal(t, "", c.GetCachedSignature("toolu_old"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.CacheSignature("toolu_live", "sig-live")
				assert.Equal(t, "sig-live", c.GetCachedSignature("toolu_live"))
			}
		}()
	}
	wg.Wait()

	c.mu.RLock()
	_, ok := c.memoryCache["toolu_old"]
	c.mu.RUnlock()
	assert.False(t, ok)
}
