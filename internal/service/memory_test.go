package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/Concord/internal/adapter/memstore"
	"github.com/Strob0t/Concord/internal/domain"
	"github.com/Strob0t/Concord/internal/domain/memory"
)

// fakeCache records gets, sets and deletes for cache interaction tests.
type fakeCache struct {
	mu      sync.Mutex
	data    map[string]string
	deletes []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]string)}
}

func (c *fakeCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	c.deletes = append(c.deletes, key)
	return nil
}

func (c *fakeCache) Close() {}

func TestMemoryAppendFillsDefaults(t *testing.T) {
	svc := NewMemoryService(memstore.New(), nil, time.Minute)

	e := &memory.Entry{ConversationID: "c", Role: memory.RoleTask, Content: "hello"}
	if err := svc.Append(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if e.ID == "" {
		t.Error("Append must assign an ID")
	}
	if e.CreatedAt.IsZero() {
		t.Error("Append must stamp CreatedAt")
	}
}

func TestMemoryAppendValidates(t *testing.T) {
	svc := NewMemoryService(memstore.New(), nil, time.Minute)

	err := svc.Append(context.Background(), &memory.Entry{Role: memory.RoleTask, Content: "x"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation for missing conversation id", err)
	}
}

func TestMemoryContextFormat(t *testing.T) {
	svc := NewMemoryService(memstore.New(), nil, time.Minute)
	ctx := context.Background()

	entries := []*memory.Entry{
		{ConversationID: "c", Role: memory.RoleTask, Content: "what is go?"},
		{ConversationID: "c", Role: memory.RoleAgent, AgentName: "gpt", Content: "a language"},
		{ConversationID: "c", Role: memory.RoleConsensus, Content: "go is a language"},
	}
	for _, e := range entries {
		if err := svc.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	transcript, err := svc.Context(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(transcript, "\n")
	if len(lines) != 3 {
		t.Fatalf("transcript lines = %d: %q", len(lines), transcript)
	}
	if !strings.HasPrefix(lines[0], "[task]") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "[agent gpt]") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "[consensus]") {
		t.Errorf("line 2 = %q", lines[2])
	}
}

func TestMemoryContextEmptyConversation(t *testing.T) {
	svc := NewMemoryService(memstore.New(), nil, time.Minute)

	transcript, err := svc.Context(context.Background(), "")
	if err != nil || transcript != "" {
		t.Fatalf("empty conversation id: %q, %v", transcript, err)
	}
}

func TestMemoryCacheInvalidatedOnAppend(t *testing.T) {
	cache := newFakeCache()
	svc := NewMemoryService(memstore.New(), cache, time.Minute)
	ctx := context.Background()

	if err := svc.Append(ctx, &memory.Entry{ConversationID: "c", Role: memory.RoleTask, Content: "one"}); err != nil {
		t.Fatal(err)
	}

	// First read populates the cache.
	first, err := svc.Context(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if len(cache.data) != 1 {
		t.Fatal("context must be cached after a read")
	}

	// Append invalidates; the next read sees the new entry.
	if err := svc.Append(ctx, &memory.Entry{ConversationID: "c", Role: memory.RoleConsensus, Content: "two"}); err != nil {
		t.Fatal(err)
	}
	second, err := svc.Context(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Error("append must invalidate the cached context")
	}
	if !strings.Contains(second, "two") {
		t.Errorf("stale context served: %q", second)
	}
}
