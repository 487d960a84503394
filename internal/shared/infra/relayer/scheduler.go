package relayer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/hexaevents/internal/shared/infra/platform/lock"
)

const (
	lockKey         = "outbox-dispatcher"
	DefaultInterval = 10 * time.Second
	DefaultLockTTL  = 300 * time.Second
)

// CycleRunner es lo que el scheduler dispara en cada tick.
type CycleRunner interface {
	RunDispatchCycle(ctx context.Context) (CycleReport, error)
}

// Scheduler dispara el dispatcher periódicamente. El lock garantiza que, entre
// todas las instancias, solo un ciclo corre a la vez durante como mucho lockTTL.
type Scheduler struct {
	runner   CycleRunner
	locker   lock.Locker
	interval time.Duration
	lockTTL  time.Duration
	log      *zap.Logger
}

func NewScheduler(runner CycleRunner, locker lock.Locker, interval, lockTTL time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Scheduler{
		runner:   runner,
		locker:   locker,
		interval: interval,
		lockTTL:  lockTTL,
		log:      log,
	}
}

// Start inicia el bucle de polling. Bloquea hasta que ctx se cancela.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("🚀 Outbox dispatcher iniciado",
		zap.Duration("interval", s.interval),
		zap.Duration("lock_ttl", s.lockTTL),
	)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("🛑 Outbox dispatcher detenido.")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce ejecuta un ciclo si consigue el lock. Devuelve false si otra instancia lo tiene.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	release, ok, err := s.locker.TryLock(ctx, lockKey, s.lockTTL)
	if err != nil {
		s.log.Warn("⚠️ No se pudo obtener el lock del dispatcher", zap.Error(err))
		return false
	}
	if !ok {
		s.log.Debug("⏭️ Otro dispatcher está en curso, se salta el ciclo")
		return false
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("⚠️ No se pudo liberar el lock del dispatcher", zap.Error(err))
		}
	}()

	cycleCtx, cancel := context.WithTimeout(ctx, s.lockTTL)
	defer cancel()

	s.log.Debug("🔄 Ejecutando ciclo de outbox")
	if _, err := s.runner.RunDispatchCycle(cycleCtx); err != nil {
		s.log.Warn("⚠️ Error en el ciclo de outbox", zap.Error(err))
	}
	return true
}
