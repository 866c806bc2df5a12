package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/makeasinger/enrichment/pkg/response"
)

// RateLimiter is a fixed-window limiter backed by Redis counters
type RateLimiter struct {
	redis  *redis.Client
	logger *logrus.Entry
}

func NewRateLimiter(redisClient *redis.Client, logger *logrus.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		logger: logger.WithField("component", "ratelimit"),
	}
}

// Limit allows maxRequests per caller per window. Callers are identified by
// user id, or by IP for unauthenticated routes. Redis failures fail open.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if maxRequests <= 0 {
			return c.Next()
		}

		caller := GetUserID(c)
		if caller == "" {
			caller = "ip:" + c.IP()
		}
		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, caller)
		ctx := c.UserContext()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			rl.logger.WithError(err).Warn("Rate limit check failed, allowing request")
			return c.Next()
		}

		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(maxRequests-int(count)))

		return c.Next()
	}
}

// EnrichLimit limits enrichment job creation per hour
func (rl *RateLimiter) EnrichLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("enrich", maxPerHour, time.Hour)
}
