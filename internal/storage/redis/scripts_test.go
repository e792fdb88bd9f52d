package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestReplaceLimitsScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	mr.HSet("p:limits", "stale.com", `{"limit":1}`)

	tests := []struct {
		name      string
		args      []interface{}
		wantCount int64
		wantLen   int
	}{
		{
			name:      "two records",
			args:      []interface{}{"a.com", `{"limit":1}`, "b.com", `{"limit":2}`},
			wantCount: 2,
			wantLen:   2,
		},
		{
			name:      "empty clears",
			args:      []interface{}{},
			wantCount: 0,
			wantLen:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := client.Eval(ctx, replaceLimitsScript, []string{"p:limits"}, tt.args...).Int64()
			if err != nil {
				t.Fatalf("Script execution failed: %v", err)
			}
			if n != tt.wantCount {
				t.Errorf("expected count %d, got %d", tt.wantCount, n)
			}

			fields, err := client.HGetAll(ctx, "p:limits").Result()
			if err != nil {
				t.Fatalf("HGetAll failed: %v", err)
			}
			if len(fields) != tt.wantLen {
				t.Errorf("expected %d fields, got %d", tt.wantLen, len(fields))
			}
			if _, ok := fields["stale.com"]; ok {
				t.Error("stale field survived replace")
			}
		})
	}
}
