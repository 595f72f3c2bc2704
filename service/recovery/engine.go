// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattermost/callcore/service/random"
	"github.com/mattermost/callcore/service/task"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// Weight given to the newest sample of the average resolution time.
const resolutionAlpha = 0.1

var (
	ErrNotFound        = errors.New("error not found")
	ErrAlreadyResolved = errors.New("error already resolved")
	errNoRetryFunc     = errors.New("no retry function")
)

// Listeners receive engine events. Nil callbacks are skipped. Callbacks run
// on the goroutine that produced the event and must not block.
type Listeners struct {
	OnErrorOccurred      func(d *ErrorDetails)
	OnErrorResolved      func(d *ErrorDetails, resolution string)
	OnRetryAttempt       func(d *ErrorDetails, attempt int)
	OnRecoveryFailed     func(d *ErrorDetails)
	OnUserActionRequired func(d *ErrorDetails, actions []string)
}

type retryEntry struct {
	details *ErrorDetails
	fn      RetryFunc
	attempt int
	handle  *task.Handle
}

// Engine classifies errors, keeps their history and drives automatic
// retries.
type Engine struct {
	cfg        Config
	log        mlog.LoggerIFace
	metrics    Metrics
	classifier *Classifier
	scheduler  *task.Scheduler
	now        func() time.Time
	retryDelay time.Duration
	ctx        context.Context
	cancel     context.CancelFunc

	mut      sync.Mutex
	history  []*ErrorDetails
	resolved map[string]bool
	pending  map[string]*retryEntry
	counters counters
	stopped  bool

	lmut           sync.RWMutex
	listeners      map[int]Listeners
	nextListenerID int
}

func NewEngine(cfg Config, log mlog.LoggerIFace, opts ...Option) (*Engine, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	if log == nil {
		return nil, fmt.Errorf("invalid log value: should not be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:        cfg,
		log:        log,
		metrics:    noopMetrics{},
		classifier: NewClassifier(),
		scheduler:  task.NewScheduler(),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		resolved:   make(map[string]bool),
		pending:    make(map[string]*retryEntry),
		counters:   newCounters(),
		listeners:  make(map[int]Listeners),
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return e, nil
}

// AddListener registers l and returns a function that removes it.
func (e *Engine) AddListener(l Listeners) func() {
	e.lmut.Lock()
	defer e.lmut.Unlock()
	id := e.nextListenerID
	e.nextListenerID++
	e.listeners[id] = l
	return func() {
		e.lmut.Lock()
		delete(e.listeners, id)
		e.lmut.Unlock()
	}
}

func (e *Engine) getListeners() []Listeners {
	e.lmut.RLock()
	defer e.lmut.RUnlock()
	ls := make([]Listeners, 0, len(e.listeners))
	for _, l := range e.listeners {
		ls = append(ls, l)
	}
	return ls
}

// Classify returns the type err would be handled as.
func (e *Engine) Classify(err error) ErrorType {
	return e.classifier.Classify(err)
}

// AutoRetryEnabled reports whether retryable errors get retries scheduled.
func (e *Engine) AutoRetryEnabled() bool {
	return e.cfg.EnableAutoRetry
}

// HandleError classifies err, records it and starts the recovery its policy
// calls for. It returns nil for a nil error.
func (e *Engine) HandleError(err error, ectx Context) *ErrorDetails {
	if err == nil {
		return nil
	}

	d := newDetails(random.NewID(), e.classifier.Classify(err), err, ectx, e.now())

	e.mut.Lock()
	e.appendHistory(d)
	e.counters.record(d)
	e.mut.Unlock()

	e.logError(d)
	e.metrics.IncErrors(d.Type.String(), d.Severity.String())

	for _, l := range e.getListeners() {
		if l.OnErrorOccurred != nil {
			l.OnErrorOccurred(d)
		}
	}

	switch {
	case d.Strategy == StrategyUserAction:
		for _, l := range e.getListeners() {
			if l.OnUserActionRequired != nil {
				l.OnUserActionRequired(d, d.SuggestedActions)
			}
		}
	case d.Retryable && e.cfg.EnableAutoRetry && d.MaxRetries > 0 && !ectx.NoAutoRetry:
		e.mut.Lock()
		if e.stopped {
			e.mut.Unlock()
			break
		}
		entry := &retryEntry{
			details: d,
			fn:      ectx.RetryFunc,
			attempt: 1,
		}
		e.pending[d.ID] = entry
		e.scheduleRetry(entry)
		e.mut.Unlock()
	}

	return d
}

// scheduleRetry must be called with e.mut held.
func (e *Engine) scheduleRetry(entry *retryEntry) {
	delay := entry.details.RetryDelay
	if e.retryDelay > 0 {
		delay = e.retryDelay
	}
	entry.handle = e.scheduler.Schedule("retry:"+entry.details.ID, delay, func() {
		e.runRetry(entry)
	})
}

func (e *Engine) runRetry(entry *retryEntry) {
	d := entry.details

	e.mut.Lock()
	if e.pending[d.ID] != entry {
		e.mut.Unlock()
		return
	}
	attempt := entry.attempt
	e.mut.Unlock()

	e.log.Debug("recovery: retrying",
		mlog.String("errorID", d.ID),
		mlog.String("type", d.Type.String()),
		mlog.Int("attempt", attempt),
		mlog.Int("maxRetries", d.MaxRetries),
	)
	e.metrics.IncRetryAttempts(d.Type.String())

	announced := d.withAttempt(attempt)
	for _, l := range e.getListeners() {
		if l.OnRetryAttempt != nil {
			l.OnRetryAttempt(announced, attempt)
		}
	}

	err := errNoRetryFunc
	if entry.fn != nil {
		err = entry.fn(e.ctx, attempt)
	}

	e.mut.Lock()
	if e.pending[d.ID] != entry {
		// Resolved or cancelled while the attempt was running.
		e.mut.Unlock()
		return
	}

	if err == nil {
		e.mut.Unlock()
		if rErr := e.MarkErrorResolved(d.ID, fmt.Sprintf("retry attempt %d succeeded", attempt)); rErr != nil {
			e.log.Warn("recovery: failed to mark error as resolved", mlog.String("errorID", d.ID), mlog.Err(rErr))
		}
		return
	}

	if attempt >= d.MaxRetries {
		delete(e.pending, d.ID)
		e.counters.recoveryFailures++
		e.mut.Unlock()

		e.log.Error("recovery: giving up",
			mlog.String("errorID", d.ID),
			mlog.String("type", d.Type.String()),
			mlog.String("callID", d.CallID),
			mlog.Int("attempts", attempt),
			mlog.Err(err),
		)
		e.metrics.IncRecoveryFailures(d.Type.String())

		for _, l := range e.getListeners() {
			if l.OnRecoveryFailed != nil {
				l.OnRecoveryFailed(d)
			}
		}
		return
	}

	if !errors.Is(err, errNoRetryFunc) {
		e.log.Debug("recovery: retry attempt failed",
			mlog.String("errorID", d.ID),
			mlog.Int("attempt", attempt),
			mlog.Err(err),
		)
	}
	entry.attempt++
	e.scheduleRetry(entry)
	e.mut.Unlock()
}

// MarkErrorResolved cancels any pending retry for the error and records how
// long resolution took.
func (e *Engine) MarkErrorResolved(errorID, resolution string) error {
	e.mut.Lock()

	var d *ErrorDetails
	if entry, ok := e.pending[errorID]; ok {
		d = entry.details
		entry.handle.Cancel()
		delete(e.pending, errorID)
	} else {
		d = e.findLocked(errorID)
	}

	if d == nil {
		e.mut.Unlock()
		return ErrNotFound
	}
	if e.resolved[errorID] {
		e.mut.Unlock()
		return ErrAlreadyResolved
	}
	if e.findLocked(errorID) != nil {
		e.resolved[errorID] = true
	}
	e.counters.resolve(e.now().Sub(d.Timestamp))
	e.mut.Unlock()

	e.log.Info("recovery: error resolved",
		mlog.String("errorID", d.ID),
		mlog.String("type", d.Type.String()),
		mlog.String("resolution", resolution),
	)
	e.metrics.IncErrorsResolved(d.Type.String())

	for _, l := range e.getListeners() {
		if l.OnErrorResolved != nil {
			l.OnErrorResolved(d, resolution)
		}
	}

	return nil
}

// CancelRetry abandons the pending retry of an error without firing any
// event. It returns false if no retry was pending.
func (e *Engine) CancelRetry(errorID string) bool {
	e.mut.Lock()
	defer e.mut.Unlock()

	entry, ok := e.pending[errorID]
	if !ok {
		return false
	}
	entry.handle.Cancel()
	delete(e.pending, errorID)
	return true
}

// CancelRetriesForCall abandons every pending retry tied to callID and
// returns how many were cancelled.
func (e *Engine) CancelRetriesForCall(callID string) int {
	if callID == "" {
		return 0
	}

	e.mut.Lock()
	defer e.mut.Unlock()

	var n int
	for id, entry := range e.pending {
		if entry.details.CallID != callID {
			continue
		}
		entry.handle.Cancel()
		delete(e.pending, id)
		n++
	}
	return n
}

// PendingRetries returns the number of errors with a retry scheduled.
func (e *Engine) PendingRetries() int {
	e.mut.Lock()
	defer e.mut.Unlock()
	return len(e.pending)
}

// History returns the recorded errors, oldest first.
func (e *Engine) History() []*ErrorDetails {
	e.mut.Lock()
	defer e.mut.Unlock()
	history := make([]*ErrorDetails, len(e.history))
	copy(history, e.history)
	return history
}

// ClearHistory drops the recorded errors and resets the statistics.
// Pending retries are left untouched.
func (e *Engine) ClearHistory() {
	e.mut.Lock()
	defer e.mut.Unlock()
	e.history = nil
	e.resolved = make(map[string]bool)
	e.counters = newCounters()
}

// Stop cancels every pending retry and any attempt in progress.
func (e *Engine) Stop() {
	e.scheduler.Stop()
	e.cancel()

	e.mut.Lock()
	e.stopped = true
	e.pending = make(map[string]*retryEntry)
	e.mut.Unlock()
}

// appendHistory must be called with e.mut held.
func (e *Engine) appendHistory(d *ErrorDetails) {
	e.history = append(e.history, d)
	if overflow := len(e.history) - e.cfg.MaxHistory; overflow > 0 {
		for _, old := range e.history[:overflow] {
			delete(e.resolved, old.ID)
		}
		e.history = append([]*ErrorDetails(nil), e.history[overflow:]...)
	}
}

// findLocked must be called with e.mut held.
func (e *Engine) findLocked(errorID string) *ErrorDetails {
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].ID == errorID {
			return e.history[i]
		}
	}
	return nil
}

func (e *Engine) logError(d *ErrorDetails) {
	fields := []mlog.Field{
		mlog.String("errorID", d.ID),
		mlog.String("type", d.Type.String()),
		mlog.String("severity", d.Severity.String()),
		mlog.String("strategy", string(d.Strategy)),
		mlog.String("callID", d.CallID),
		mlog.Any("context", d.Context),
		mlog.Err(d.Err),
	}

	switch d.Severity {
	case SeverityLow:
		e.log.Debug("recovery: error occurred", fields...)
	case SeverityMedium:
		e.log.Warn("recovery: error occurred", fields...)
	case SeverityHigh:
		e.log.Error("recovery: error occurred", fields...)
	default:
		e.log.Critical("recovery: error occurred", fields...)
	}
}
