package middleware

import (
	"context"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/smpb05/janus-gateway/internal/logging"
)

func limitedApp(rl *RateLimiter, prefix string, max int) *fiber.App {
	app := fiber.New()
	app.Get("/", rl.Limit(prefix, max, time.Minute), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func TestLimitDisabled(t *testing.T) {
	app := limitedApp(NewRateLimiter(nil, logging.Discard()), "off", 1)
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("request %d: status %d", i, resp.StatusCode)
		}
	}
}

func TestLimitFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	app := limitedApp(NewRateLimiter(client, logging.Discard()), "down", 1)
	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil), 5000)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("request %d: status %d", i, resp.StatusCode)
		}
	}
}

func TestLimitRejectsOverQuota(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	defer client.Close()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skipping: redis not available: %v", err)
	}

	prefix := "test-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	app := limitedApp(NewRateLimiter(client, logging.Discard()), prefix, 2)

	var statuses []int
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		if err != nil {
			t.Fatal(err)
		}
		statuses = append(statuses, resp.StatusCode)
		if i == 2 && resp.Header.Get("Retry-After") == "" {
			t.Error("missing Retry-After header")
		}
	}
	if statuses[0] != 200 || statuses[1] != 200 || statuses[2] != fiber.StatusTooManyRequests {
		t.Fatalf("unexpected statuses %v", statuses)
	}
	client.Del(context.Background(), "ratelimit:"+prefix+":0.0.0.0")
}
