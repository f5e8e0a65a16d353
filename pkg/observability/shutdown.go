package observability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ShutdownFunc releases one resource during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownStage orders cleanup. Every function of a stage finishes before
// the next stage starts; functions within a stage run concurrently.
type ShutdownStage int

const (
	// StageServe stops accepting work: HTTP servers, schedulers
	StageServe ShutdownStage = iota
	// StageDrain flushes work already accepted: notification queues, spans
	StageDrain
	// StageRelease closes what the earlier stages still used: databases, caches
	StageRelease
)

type namedShutdown struct {
	name  string
	stage ShutdownStage
	fn    ShutdownFunc
}

// ShutdownManager runs registered cleanup functions within a deadline
type ShutdownManager struct {
	logger  *logrus.Logger
	timeout time.Duration

	mu    sync.Mutex
	funcs []namedShutdown
	done  bool
}

// NewShutdownManager creates a shutdown manager. A zero timeout means 30s.
func NewShutdownManager(logger *logrus.Logger, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{logger: logger, timeout: timeout}
}

// Register adds a cleanup function to StageServe
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.RegisterStage(StageServe, name, fn)
}

// RegisterStage adds a cleanup function to the given stage
func (sm *ShutdownManager) RegisterStage(stage ShutdownStage, name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.funcs = append(sm.funcs, namedShutdown{name: name, stage: stage, fn: fn})
}

// Shutdown runs the registered functions stage by stage and waits for them
// or for the timeout, which covers all stages. Only the first call does any work.
func (sm *ShutdownManager) Shutdown() error {
	sm.mu.Lock()
	if sm.done {
		sm.mu.Unlock()
		return nil
	}
	sm.done = true
	funcs := append([]namedShutdown(nil), sm.funcs...)
	sm.mu.Unlock()

	sort.SliceStable(funcs, func(i, j int) bool { return funcs[i].stage < funcs[j].stage })

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	var errs []error
	for start := 0; start < len(funcs); {
		end := start
		for end < len(funcs) && funcs[end].stage == funcs[start].stage {
			end++
		}
		stageErrs, err := sm.runStage(ctx, funcs[start:end])
		if err != nil {
			return err
		}
		errs = append(errs, stageErrs...)
		start = end
	}
	return errors.Join(errs...)
}

func (sm *ShutdownManager) runStage(ctx context.Context, funcs []namedShutdown) ([]error, error) {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, f := range funcs {
		wg.Add(1)
		go func(f namedShutdown) {
			defer wg.Done()
			log := sm.logger.WithField("component", f.name)
			if err := f.fn(ctx); err != nil {
				log.WithError(err).Error("Shutdown failed")
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
				mu.Unlock()
				return
			}
			log.Info("Shutdown complete")
		}(f)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		sm.logger.Warn("Shutdown timeout reached, forcing shutdown")
		return nil, fmt.Errorf("shutdown timed out after %v", sm.timeout)
	}

	mu.Lock()
	defer mu.Unlock()
	return errs, nil
}
