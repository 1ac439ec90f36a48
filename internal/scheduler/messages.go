package scheduler

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hcengineering/huly-ai-agent/internal/store"
)

// MessageBuffer keeps the per-card assistant conversation. Writes go
// through to the store so context survives restarts; a small LRU keeps
// hot cards out of sqlite on the read path.
type MessageBuffer struct {
	db    *store.Store
	mu    sync.Mutex
	cache *lru.Cache[string, []string]
}

// NewMessageBuffer builds a buffer caching up to cacheSize cards.
func NewMessageBuffer(db *store.Store, cacheSize int) (*MessageBuffer, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, []string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &MessageBuffer{db: db, cache: cache}, nil
}

// Append records finished turns for a card.
func (b *MessageBuffer) Append(ctx context.Context, cardID string, turns ...string) error {
	if len(turns) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.db.AppendAssistantMessages(ctx, cardID, turns); err != nil {
		return err
	}
	if cached, ok := b.cache.Get(cardID); ok {
		b.cache.Add(cardID, append(cached, turns...))
	}
	return nil
}

// History returns the card's conversation so far, oldest first.
func (b *MessageBuffer) History(ctx context.Context, cardID string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cached, ok := b.cache.Get(cardID); ok {
		out := make([]string, len(cached))
		copy(out, cached)
		return out, nil
	}
	msgs, err := b.db.AssistantMessages(ctx, cardID)
	if err != nil {
		return nil, err
	}
	b.cache.Add(cardID, msgs)
	out := make([]string, len(msgs))
	copy(out, msgs)
	return out, nil
}
