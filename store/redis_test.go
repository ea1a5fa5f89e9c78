package store

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"diseaseindex/schema"
)

func TestRedisKeys(t *testing.T) {
	if got := CurrentKey("di"); got != "di:current" {
		t.Errorf("CurrentKey = %q", got)
	}
	if got := SymptomKey("di", "r1", "fever"); got != "di:r1:symptom:fever" {
		t.Errorf("SymptomKey = %q", got)
	}
	if got := DiseaseKey("di", "r1", "flu"); got != "di:r1:disease:flu" {
		t.Errorf("DiseaseKey = %q", got)
	}
}

// Needs a live server: REDIS_ADDR=localhost:6379 go test ./store
func TestRedisPublishAndLookup(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	prefix := fmt.Sprintf("diseaseindex-test-%s", uuid.NewString())

	r, err := OpenRedis(ctx, addr, prefix, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer cleanup(t, r.client, prefix)

	if _, err := r.Symptom(ctx, "fever"); err != ErrNoRun {
		t.Fatalf("Symptom before publish = %v, want ErrNoRun", err)
	}

	snap := testSnapshot([]schema.Record{
		{Name: "flu", Symptoms: "fever, cough", Treatments: "rest", Contagious: schema.True},
	})
	if err := r.Publish(ctx, snap); err != nil {
		t.Fatal(err)
	}

	fever, err := r.Symptom(ctx, "fever")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(fever, snap.Symptoms["fever"]) {
		t.Errorf("fever = %+v", fever)
	}
	flu, ok, err := r.Disease(ctx, "flu")
	if err != nil || !ok {
		t.Fatalf("Disease(flu) ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(flu, snap.Diseases["flu"]) {
		t.Errorf("flu = %+v", flu)
	}
	if got, err := r.Symptom(ctx, "rash"); err != nil || got != nil {
		t.Errorf("Symptom(rash) = %v, %v", got, err)
	}
}

func cleanup(t *testing.T, c *redis.Client, prefix string) {
	t.Helper()
	ctx := context.Background()
	iter := c.Scan(ctx, 0, prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		c.Del(ctx, iter.Val())
	}
}
