package middleware

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"tidemail/config"
	"tidemail/utils"
)

// RateLimiter limits each client IP to cfg.Requests per cfg.Window().
// Stale limiters are swept periodically so the map stays bounded.
func RateLimiter(cfg config.RateLimitConfig) fiber.Handler {
	requests := cfg.Requests
	if requests <= 0 {
		requests = 100
	}
	window := cfg.Window()
	if window <= 0 {
		window = time.Minute
	}

	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		visitors = make(map[string]*visitor)
		mu       sync.Mutex
	)

	go func() {
		for {
			time.Sleep(5 * time.Minute)
			mu.Lock()
			for ip, v := range visitors {
				if time.Since(v.lastSeen) > 2*window+10*time.Minute {
					delete(visitors, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *fiber.Ctx) error {
		ip := c.IP()

		mu.Lock()
		v, ok := visitors[ip]
		if !ok {
			v = &visitor{limiter: rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)}
			visitors[ip] = v
		}
		v.lastSeen = time.Now()
		mu.Unlock()

		if !v.limiter.Allow() {
			return utils.NewAppError(fiber.StatusTooManyRequests, utils.KindValidation,
				"Rate limit exceeded. Please try again later.", nil)
		}

		return c.Next()
	}
}
