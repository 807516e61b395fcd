// Package format provides conversion between Anthropic and Google Generative AI formats.
package format

import (
	"context"
	"sync"
	"time"

	"github.com/gclaude/antigravity-proxy/internal/config"
	"github.com/gclaude/antigravity-proxy/pkg/redis"
)

// SignatureCache stores Gemini thoughtSignatures keyed by tool_use id.
// Gemini requires the signature on replayed tool calls, but Anthropic
// clients strip non-standard fields from history, so the proxy keeps
// them here and restores them on the way back upstream.
//
// Backed by Redis when available, with an in-memory fallback.
type SignatureCache struct {
	mu          sync.RWMutex
	redisClient *redis.Client
	useRedis    bool
	memoryCache map[string]*signatureEntry
}

type signatureEntry struct {
	Signature string
	Timestamp time.Time
}

// NewSignatureCache creates a SignatureCache. A nil redisClient selects
// the in-memory backend.
func NewSignatureCache(redisClient *redis.Client) *SignatureCache {
	return &SignatureCache{
		redisClient: redisClient,
		useRedis:    redisClient != nil,
		memoryCache: make(map[string]*signatureEntry),
	}
}

func cacheTTL() time.Duration {
	return time.Duration(config.SignatureCacheTTLMs) * time.Millisecond
}

// CacheSignature stores a signature for a tool_use id
func (c *SignatureCache) CacheSignature(toolUseID, signature string) {
	if toolUseID == "" || signature == "" {
		return
	}

	// The Redis client is safe for concurrent use; the mutex only
	// guards the in-memory maps, and must not be held across I/O
	if c.useRedis {
		_ = c.redisClient.SetSignature(context.Background(), toolUseID, signature, cacheTTL())
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.memoryCache[toolUseID] = &signatureEntry{Signature: signature, Timestamp: time.Now()}
}

// GetCachedSignature retrieves a cached signature for a tool_use id
func (c *SignatureCache) GetCachedSignature(toolUseID string) string {
	if toolUseID == "" {
		return ""
	}

	if c.useRedis {
		signature, err := c.redisClient.GetSignature(context.Background(), toolUseID)
		if err != nil {
			return ""
		}
		return signature
	}

	c.mu.RLock()
	entry, ok := c.memoryCache[toolUseID]
	c.mu.RUnlock()
	if !ok {
		return ""
	}
	if time.Since(entry.Timestamp) > cacheTTL() {
		c.mu.Lock()
		if cur, ok := c.memoryCache[toolUseID]; ok && time.Since(cur.Timestamp) > cacheTTL() {
			delete(c.memoryCache, toolUseID)
		}
		c.mu.Unlock()
		return ""
	}
	return entry.Signature
}

// Reset drops the in-memory entries. Redis entries expire via TTL.
func (c *SignatureCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memoryCache = make(map[string]*signatureEntry)
}

var (
	globalSignatureCache   *SignatureCache
	globalSignatureCacheMu sync.Mutex
)

// InitGlobalSignatureCache installs the process-wide signature cache
func InitGlobalSignatureCache(redisClient *redis.Client) {
	globalSignatureCacheMu.Lock()
	defer globalSignatureCacheMu.Unlock()
	globalSignatureCache = NewSignatureCache(redisClient)
}

// GetGlobalSignatureCache returns the process-wide cache, creating a
// memory-only one when nothing was installed
func GetGlobalSignatureCache() *SignatureCache {
	globalSignatureCacheMu.Lock()
	defer globalSignatureCacheMu.Unlock()
	if globalSignatureCache == nil {
		globalSignatureCache = NewSignatureCache(nil)
	}
	return globalSignatureCache
}
