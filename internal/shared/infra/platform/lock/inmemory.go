package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type lockItem struct {
	token     string
	expiresAt time.Time
}

// InMemoryLocker sirve para un solo proceso, o cuando Redis no está disponible.
type InMemoryLocker struct {
	mu    sync.Mutex
	locks map[string]lockItem
	now   func() time.Time
}

var _ Locker = (*InMemoryLocker)(nil)

func NewInMemoryLocker() *InMemoryLocker {
	return &InMemoryLocker{
		locks: make(map[string]lockItem),
		now:   time.Now,
	}
}

func (l *InMemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (ReleaseFunc, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if item, ok := l.locks[key]; ok && now.Before(item.expiresAt) {
		return nil, false, nil
	}

	token := uuid.NewString()
	l.locks[key] = lockItem{token: token, expiresAt: now.Add(ttl)}

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if item, ok := l.locks[key]; ok && item.token == token {
			delete(l.locks, key)
		}
		return nil
	}
	return release, true, nil
}
