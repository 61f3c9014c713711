package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/joecupano/airgap-lab-ai/pkg/config"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("AIRGAP_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	c, err := NewClient(context.Background(), config.RedisConfig{Addr: addr, DB: 15, PoolSize: 2})
	if err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() {
		c.FlushByPattern(context.Background(), "airgap-test:*")
		c.Close()
	})
	return c
}

func TestJSONRoundTrip(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	type payload struct {
		Source string  `json:"source"`
		Score  float64 `json:"score"`
	}
	if err := c.SetJSON(ctx, "airgap-test:q1", []payload{{"a.txt", 0.5}}, time.Minute); err != nil {
		t.Fatal(err)
	}
	var got []payload
	found, err := c.GetJSON(ctx, "airgap-test:q1", &got)
	if err != nil || !found || len(got) != 1 || got[0].Source != "a.txt" {
		t.Errorf("GetJSON() = %v, %v, %v", got, found, err)
	}
	found, err = c.GetJSON(ctx, "airgap-test:missing", &got)
	if err != nil || found {
		t.Errorf("missing key: found=%v err=%v", found, err)
	}
}

func TestPatternOps(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	for _, k := range []string{"airgap-test:b1:x", "airgap-test:b1:y", "airgap-test:b2:x"} {
		c.Set(ctx, k, "v", time.Minute)
	}
	if n, err := c.CountByPattern(ctx, "airgap-test:b1:*"); err != nil || n != 2 {
		t.Errorf("CountByPattern() = %d, %v", n, err)
	}
	if n, err := c.FlushByPattern(ctx, "airgap-test:b1:*"); err != nil || n != 2 {
		t.Errorf("FlushByPattern() = %d, %v", n, err)
	}
	if n, _ := c.CountByPattern(ctx, "airgap-test:*"); n != 1 {
		t.Errorf("remaining keys = %d, want 1", n)
	}
}
