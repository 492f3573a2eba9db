package session

import (
	"context"
	"fmt"
	"math"
	"time"

	"rag-chat-be/internal/constant"
	"rag-chat-be/internal/pkg/logger"
)

type Notifier interface {
	Notify(sessionKey, text string) error
}

type SupervisorConfig struct {
	IdleTimeout     time.Duration
	WarningWindow   time.Duration
	WarningInterval time.Duration
	TickInterval    time.Duration
}

func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		IdleTimeout:     180 * time.Second,
		WarningWindow:   30 * time.Second,
		WarningInterval: 5 * time.Second,
		TickInterval:    time.Second,
	}
}

type Report struct {
	Evicted []string
	Warned  map[string]int
}

// Supervisor closes sessions that stay idle past IdleTimeout and warns them
// while they are inside WarningWindow. It never touches the index lock and
// never waits on a pipeline.
type Supervisor struct {
	registry *Registry
	notifier Notifier
	logger   logger.ILogger
	cfg      SupervisorConfig
	now      func() time.Time
}

func NewSupervisor(registry *Registry, notifier Notifier, log logger.ILogger, cfg SupervisorConfig) *Supervisor {
	def := DefaultSupervisorConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.WarningWindow < 0 {
		cfg.WarningWindow = def.WarningWindow
	}
	if cfg.WarningInterval <= 0 {
		cfg.WarningInterval = def.WarningInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	return &Supervisor{
		registry: registry,
		notifier: notifier,
		logger:   log,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run ticks until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.logger.Info("SUPERVISOR", "Idle supervisor started", map[string]interface{}{
		"idle_timeout": s.cfg.IdleTimeout.String(),
		"tick":         s.cfg.TickInterval.String(),
	})

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SUPERVISOR", "Idle supervisor stopped", nil)
			return
		case <-ticker.C:
			s.Tick(s.now())
		}
	}
}

// Tick evaluates every registered session once against now.
func (s *Supervisor) Tick(now time.Time) Report {
	report := Report{Warned: map[string]int{}}
	for _, e := range s.registry.Snapshot() {
		s.check(now, e, &report)
	}
	return report
}

func (s *Supervisor) check(now time.Time, e Entry, report *Report) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("SUPERVISOR", "Recovered while checking session", map[string]interface{}{
				"session_key": e.Key,
				"panic":       fmt.Sprint(r),
			})
		}
	}()

	remaining := s.remainingSeconds(now, e.LastActiveAt)

	if remaining <= 0 {
		if s.evict(e) {
			report.Evicted = append(report.Evicted, e.Key)
		}
		return
	}

	if remaining > int(s.cfg.WarningWindow/time.Second) {
		return
	}

	bucket := s.bucket(remaining)
	if !s.registry.MarkWarned(e.Key, bucket) {
		return
	}
	report.Warned[e.Key] = remaining
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(e.Key, fmt.Sprintf(constant.NoticeIdleWarning, remaining)); err != nil {
		s.logger.Debug("SUPERVISOR", "Idle warning dropped", map[string]interface{}{"session_key": e.Key, "error": err.Error()})
	}
}

// remainingSeconds rounds up so a session is only evicted once the full
// timeout has elapsed.
func (s *Supervisor) remainingSeconds(now, lastActive time.Time) int {
	left := s.cfg.IdleTimeout - now.Sub(lastActive)
	return int(math.Ceil(left.Seconds()))
}

// bucket maps remaining seconds onto the warning schedule: 30 for 26..30,
// 25 for 21..25 and so on. A tick that lands late still falls in the right
// bucket, and each bucket is announced once.
func (s *Supervisor) bucket(remaining int) int {
	step := int(s.cfg.WarningInterval / time.Second)
	if step <= 0 {
		step = 1
	}
	return ((remaining + step - 1) / step) * step
}

// evict drops the registry entry and closes its transport. A session that
// became active after the snapshot was taken is left alone.
func (s *Supervisor) evict(e Entry) bool {
	if !s.registry.RemoveIfIdle(e.Key, e.Conn, e.LastActiveAt) {
		return false
	}
	if e.Conn != nil {
		if err := e.Conn.Close(); err != nil {
			s.logger.Debug("SUPERVISOR", "Close failed during eviction", map[string]interface{}{"session_key": e.Key, "error": err.Error()})
		}
	}
	s.logger.Info("SUPERVISOR", "Session evicted for inactivity", map[string]interface{}{"session_key": e.Key})
	return true
}
