package cloudcode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gclaude/antigravity-proxy/internal/config"
)

func testPool() *EndpointPool {
	return NewEndpointPool("https://a.example.com", "https://b.example.com", "https://c.example.com")
}

func TestPoolPrefersFirstAvailable(t *testing.T) {
	pool := testPool()
	url, wait := pool.Pick()
	assert.Equal(t, "https://a.example.com", url)
	assert.Zero(t, wait)
}

func TestPoolSkipsRateLimited(t *testing.T) {
	pool := testPool()
	pool.MarkRateLimited("https://a.example.com", 30*time.Second)

	url, wait := pool.Pick()
	assert.Equal(t, "https://b.example.com", url)
	assert.Zero(t, wait)
}

func TestPoolAllLimitedReturnsSoonest(t *testing.T) {
	pool := testPool()
	pool.MarkRateLimited("https://a.example.com", 60*time.Second)
	pool.MarkRateLimited("https://b.example.com", 10*time.Second)
	pool.MarkRateLimited("https://c.example.com", 30*time.Second)

	url, wait := pool.Pick()
	assert.Equal(t, "https://b.example.com", url)
	assert.Greater(t, wait, 5*time.Second)
	assert.LessOrEqual(t, wait, 10*time.Second)
}

func TestPoolRecoversAfterDeadline(t *testing.T) {
	pool := testPool()
	now := time.Now()
	pool.now = func() time.Time { return now }

	pool.MarkRateLimited("https://a.example.com", 30*time.Second)
	url, _ := pool.Pick()
	assert.Equal(t, "https://b.example.com", url)

	now = now.Add(31 * time.Second)
	url, wait := pool.Pick()
	assert.Equal(t, "https://a.example.com", url)
	assert.Zero(t, wait)
}

func TestPoolMarkSuccessClearsState(t *testing.T) {
	pool := testPool()
	pool.MarkRateLimited("https://a.example.com", time.Minute)
	pool.MarkSuccess("https://a.example.com")

	url, wait := pool.Pick()
	assert.Equal(t, "https://a.example.com", url)
	assert.Zero(t, wait)
}

func TestPoolBackoffGrows(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoffFor(1))
	assert.Equal(t, 4*time.Second, backoffFor(2))
	assert.Equal(t, 8*time.Second, backoffFor(3))
	assert.Equal(t, 60*time.Second, backoffFor(10))
}

func TestPoolCandidatesOrder(t *testing.T) {
	pool := testPool()
	pool.MarkRateLimited("https://a.example.com", 60*time.Second)
	pool.MarkRateLimited("https://b.example.com", 10*time.Second)

	candidates := pool.Candidates()
	assert.Equal(t, []string{
		"https://c.example.com",
		"https://b.example.com",
		"https://a.example.com",
	}, candidates)
}

func TestPoolSnapshot(t *testing.T) {
	pool := testPool()
	pool.MarkRateLimited("https://a.example.com", time.Minute)
	pool.MarkAuthFailed("https://b.example.com")

	snapshot := pool.Snapshot()
	assert.Len(t, snapshot, 3)
	assert.Equal(t, EndpointRateLimited, snapshot[0].State)
	assert.NotZero(t, snapshot[0].RateLimitedUntil)
	assert.Equal(t, EndpointAuthFailed, snapshot[1].State)
	assert.Equal(t, EndpointOK, snapshot[2].State)
}

func TestPoolDefaultsToAntigravityEndpoints(t *testing.T) {
	pool := NewEndpointPool()
	url, _ := pool.Pick()
	assert.Equal(t, config.AntigravityEndpoints[0], url)
}
