package utils

import (
	"context"
	"time"
)

// Retry ejecuta fn hasta attempts veces con una espera fija entre intentos.
// Si retryable no es nil y devuelve false, se corta en ese error.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error, retryable func(error) bool) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-time.After(delay):
			// espera antes del siguiente intento
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
