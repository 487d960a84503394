package lock

import (
	"context"
	"time"
)

// ReleaseFunc libera un lock adquirido. Solo borra el lock si sigue siendo nuestro.
type ReleaseFunc func(ctx context.Context) error

// Locker es una exclusión mutua con caducidad entre procesos.
// El TTL acota cuánto dura el lock si el dueño muere sin liberarlo.
type Locker interface {
	// TryLock no espera: devuelve ok=false si otro lo tiene.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release ReleaseFunc, ok bool, err error)
}
