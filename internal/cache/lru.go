package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry struct {
	val     []byte
	expires time.Time
}

// LRU is an in-process Cache holding at most size entries.
type LRU struct {
	entries *lru.Cache[string, entry]

	mu   sync.Mutex
	gens map[string]uint64
	now  func() time.Time
}

func NewLRU(size int) (*LRU, error) {
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &LRU{entries: c, gens: map[string]uint64{}, now: time.Now}, nil
}

func (l *LRU) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := l.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && l.now().After(e.expires) {
		l.entries.Remove(key)
		return nil, false, nil
	}
	return e.val, true, nil
}

func (l *LRU) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	e := entry{val: val}
	if ttl > 0 {
		e.expires = l.now().Add(ttl)
	}
	l.entries.Add(key, e)
	return nil
}

func (l *LRU) Generation(_ context.Context, name string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gens[name], nil
}

func (l *LRU) Bump(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gens[name]++
	return nil
}
