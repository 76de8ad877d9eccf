// Package schedule runs workflows on interval, daily or weekly
// triggers.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/helixsec/studio-go/internal/eventbus"
	"github.com/helixsec/studio-go/internal/metrics"
	"github.com/helixsec/studio-go/pkg/types"
)

// Common errors returned by the manager.
var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrInvalidConfig    = errors.New("invalid schedule config")
)

// Runner starts a workflow execution. The API layer implements it.
type Runner interface {
	RunWorkflow(ctx context.Context, workflowID string) error
}

type entry struct {
	info   types.ScheduleInfo
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns one timer goroutine per scheduled workflow. A workflow
// has at most one schedule; starting a new one replaces the old.
type Manager struct {
	logger *slog.Logger
	runner Runner
	bus    *eventbus.Bus
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewManager creates a schedule manager. bus may be nil.
func NewManager(runner Runner, bus *eventbus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:  logger,
		runner:  runner,
		bus:     bus,
		now:     func() time.Time { return time.Now().UTC() },
		entries: make(map[string]*entry),
	}
}

// Start schedules a workflow. An existing schedule for the same
// workflow is stopped first.
func (m *Manager) Start(workflowID, workflowName string, cfg types.ScheduleConfig) error {
	if err := validate(cfg); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("schedule manager is closed")
	}
	if old, exists := m.entries[workflowID]; exists {
		old.cancel()
		delete(m.entries, workflowID)
		m.mu.Unlock()
		<-old.done
		m.mu.Lock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	next := nextRun(cfg, m.now())
	e := &entry{
		info: types.ScheduleInfo{
			WorkflowID:   workflowID,
			WorkflowName: workflowName,
			Config:       cfg,
			IsRunning:    true,
			NextRun:      &next,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.entries[workflowID] = e
	metrics.SchedulesActive.Set(float64(len(m.entries)))
	m.mu.Unlock()

	go m.loop(ctx, e)

	m.logger.Info("schedule started",
		"workflow_id", workflowID,
		"trigger", string(cfg.TriggerType),
		"next_run", next)
	return nil
}

func (m *Manager) loop(ctx context.Context, e *entry) {
	defer close(e.done)

	for {
		m.mu.Lock()
		cfg := e.info.Config
		m.mu.Unlock()

		fireAt := nextRun(cfg, m.now())
		m.mu.Lock()
		e.info.NextRun = &fireAt
		m.mu.Unlock()

		timer := time.NewTimer(fireAt.Sub(m.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		m.fire(ctx, e)
	}
}

func (m *Manager) fire(ctx context.Context, e *entry) {
	m.mu.Lock()
	workflowID := e.info.WorkflowID
	now := m.now()
	e.info.LastRun = &now
	e.info.RunCount++
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(types.Event{
			Type:       types.EventScheduleTriggered,
			WorkflowID: workflowID,
		})
	}

	runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()
	if err := m.runner.RunWorkflow(runCtx, workflowID); err != nil {
		m.logger.Error("scheduled run failed to start",
			"workflow_id", workflowID, "error", err)
		return
	}
	m.logger.Info("scheduled run started", "workflow_id", workflowID)
}

// Stop cancels a workflow's schedule and waits for its goroutine.
func (m *Manager) Stop(workflowID string) error {
	m.mu.Lock()
	e, ok := m.entries[workflowID]
	if !ok {
		m.mu.Unlock()
		return ErrScheduleNotFound
	}
	delete(m.entries, workflowID)
	metrics.SchedulesActive.Set(float64(len(m.entries)))
	m.mu.Unlock()

	e.cancel()
	<-e.done
	m.logger.Info("schedule stopped", "workflow_id", workflowID)
	return nil
}

// Get returns schedule state for a workflow.
func (m *Manager) Get(workflowID string) (types.ScheduleInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[workflowID]
	if !ok {
		return types.ScheduleInfo{}, ErrScheduleNotFound
	}
	return e.info, nil
}

// List returns all active schedules, ordered by workflow id.
func (m *Manager) List() []types.ScheduleInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.ScheduleInfo, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].WorkflowID < out[j].WorkflowID
	})
	return out
}

// Close stops all schedules.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	entries := make([]*entry, 0, len(m.entries))
	for id, e := range m.entries {
		entries = append(entries, e)
		delete(m.entries, id)
	}
	metrics.SchedulesActive.Set(0)
	m.mu.Unlock()

	for _, e := range entries {
		e.cancel()
		<-e.done
	}
}

func validate(cfg types.ScheduleConfig) error {
	if cfg.Hour > 23 || cfg.Minute > 59 || cfg.Second > 59 {
		return fmt.Errorf("%w: time of day out of range", ErrInvalidConfig)
	}
	switch cfg.TriggerType {
	case types.TriggerInterval:
		if cfg.IntervalSeconds == 0 {
			return fmt.Errorf("%w: interval_seconds must be positive", ErrInvalidConfig)
		}
	case types.TriggerDaily:
	case types.TriggerWeekly:
		days, err := parseWeekdays(cfg.Weekdays)
		if err != nil {
			return err
		}
		if len(days) == 0 {
			return fmt.Errorf("%w: weekly trigger needs at least one weekday", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidConfig, cfg.TriggerType)
	}
	return nil
}

// parseWeekdays parses "1,2,5" where 1 is Monday and 7 is Sunday.
func parseWeekdays(s string) (map[int]struct{}, error) {
	out := make(map[int]struct{})
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil || d < 1 || d > 7 {
			return nil, fmt.Errorf("%w: bad weekday %q", ErrInvalidConfig, part)
		}
		out[d] = struct{}{}
	}
	return out, nil
}

// isoWeekday maps Go's Sunday-based weekday to ISO 1..7.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// nextRun computes the next fire time strictly after now. Assumes the
// config already validated.
func nextRun(cfg types.ScheduleConfig, now time.Time) time.Time {
	switch cfg.TriggerType {
	case types.TriggerInterval:
		return now.Add(time.Duration(cfg.IntervalSeconds) * time.Second)

	case types.TriggerDaily:
		at := timeOfDay(cfg, now)
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at

	case types.TriggerWeekly:
		days, _ := parseWeekdays(cfg.Weekdays)
		at := timeOfDay(cfg, now)
		for i := 0; i < 8; i++ {
			candidate := at.AddDate(0, 0, i)
			if !candidate.After(now) {
				continue
			}
			if _, ok := days[isoWeekday(candidate)]; ok {
				return candidate
			}
		}
	}
	// Unreachable for validated configs.
	return now.Add(time.Minute)
}

func timeOfDay(cfg types.ScheduleConfig, now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(),
		int(cfg.Hour), int(cfg.Minute), int(cfg.Second), 0, now.Location())
}
