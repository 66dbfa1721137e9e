package util

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrAlreadyStarted is returned by Start after a successful first start.
var ErrAlreadyStarted = errors.New("lifecycle already started")

const (
	lifecycleInitial = iota
	lifecycleStarted
	lifecycleStopped
)

// RunLifecycle protects the start/stop transitions of a long-lived
// component: the start hook runs at most once and the stop hook runs at
// most once, only after a successful start.
type RunLifecycle struct {
	sync.Mutex
	name   string
	state  int
	logger *zap.Logger
}

// NewRunLifecycle returns a lifecycle in the initial state.
func NewRunLifecycle(name string, logger *zap.Logger) *RunLifecycle {
	return &RunLifecycle{name: name, logger: logger}
}

// Start runs the hook if the lifecycle has never started. A second call
// returns ErrAlreadyStarted without invoking the hook; a hook error
// leaves the lifecycle in the initial state.
func (r *RunLifecycle) Start(hook func() error) error {
	r.Lock()
	defer r.Unlock()
	if r.state != lifecycleInitial {
		return ErrAlreadyStarted
	}
	if err := hook(); err != nil {
		return err
	}
	r.state = lifecycleStarted
	r.logger.Info("started", zap.String("name", r.name))
	return nil
}

// Stop runs the hook if the lifecycle is started; repeated calls are
// no-ops.
func (r *RunLifecycle) Stop(hook func()) {
	r.Lock()
	defer r.Unlock()
	if r.state != lifecycleStarted {
		return
	}
	hook()
	r.state = lifecycleStopped
	r.logger.Info("stopped", zap.String("name", r.name))
}
