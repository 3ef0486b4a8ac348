package middleware

import (
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"
)

// gcraScript admits a request when the key's theoretical arrival time (TAT)
// lies within the burst tolerance of now.
// Times are unix milliseconds. Returns {allowed, remaining, retry_after_ms}.
var gcraScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local tolerance = interval * tonumber(ARGV[3])

local tat = tonumber(redis.call("GET", KEYS[1]))
if tat == nil or tat < now then
	tat = now
end

local next_tat = tat + interval
local diff = now - (next_tat - tolerance)
if diff < 0 then
	return {0, 0, -diff}
end

redis.call("SET", KEYS[1], next_tat, "PX", next_tat - now)
return {1, math.floor(diff / interval), 0}
`)

// RedisRateLimit limits each client IP to qps requests per second with a
// burst of 2*qps, shared by every instance behind the same Redis. Redis
// failures let the request through.
func RedisRateLimit(client *redis.Client, prefix string, qps int) gin.HandlerFunc {
	burst := 2 * qps
	interval := int64(1000 / qps)
	if interval < 1 {
		interval = 1
	}
	return func(c *gin.Context) {
		key := prefix + "rate_limit:" + c.ClientIP()
		res, err := gcraScript.Run(c.Request.Context(), client, []string{key},
			time.Now().UnixMilli(), interval, burst).Int64Slice()
		if err != nil || len(res) < 3 {
			log.Printf("Rate limiter unavailable, allowing request: %v", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(burst))
		if res[0] == 0 {
			retry := (time.Duration(res[2])*time.Millisecond + time.Second - 1) / time.Second
			c.Header("Retry-After", strconv.Itoa(int(retry)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests, please slow down"})
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(res[1], 10))
		c.Next()
	}
}

// IPRateLimiter keeps one token bucket per client IP in process memory
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	limit    rate.Limit
	burst    int
	idle     time.Duration
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter allows qps requests per second per IP with a burst of
// 2*qps. Buckets unused for idle are dropped.
func NewIPRateLimiter(qps int, idle time.Duration) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: make(map[string]*ipLimiter),
		limit:    rate.Limit(qps),
		burst:    2 * qps,
		idle:     idle,
	}
}

func (l *IPRateLimiter) get(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.idle {
			delete(l.limiters, key)
		}
	}

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// Allow reports whether a request from ip may proceed now
func (l *IPRateLimiter) Allow(ip string) bool {
	now := time.Now()
	return l.get(ip, now).AllowN(now, 1)
}

// RateLimit is the single-instance counterpart of RedisRateLimit
func RateLimit(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.burst))
		if !limiter.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests, please slow down"})
			return
		}
		c.Next()
	}
}
