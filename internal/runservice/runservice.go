// Package runservice ties validation, execution, and session tracking
// into the single entry point for starting and stopping runs.
package runservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/helixsec/studio-go/internal/engine"
	"github.com/helixsec/studio-go/internal/flowstore"
	"github.com/helixsec/studio-go/internal/metrics"
	"github.com/helixsec/studio-go/internal/prefs"
	"github.com/helixsec/studio-go/internal/session"
	"github.com/helixsec/studio-go/internal/validator"
	"github.com/helixsec/studio-go/pkg/types"
)

// ErrTooManyRuns is returned when the concurrent run cap is reached.
var ErrTooManyRuns = errors.New("too many concurrent runs")

// Service starts and stops workflow executions. Every run passes the
// validation gate before submission.
type Service struct {
	flows     flowstore.Store
	validator *validator.Validator
	engine    *engine.Engine
	tracker   *session.Tracker
	prefs     *prefs.Store
	logger    *slog.Logger
	maxRuns   int
}

// New creates a run service. prefs may be nil.
func New(flows flowstore.Store, v *validator.Validator, eng *engine.Engine, tracker *session.Tracker, p *prefs.Store, maxRuns int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRuns < 1 {
		maxRuns = 1
	}
	return &Service{
		flows:     flows,
		validator: v,
		engine:    eng,
		tracker:   tracker,
		prefs:     p,
		logger:    logger,
		maxRuns:   maxRuns,
	}
}

// RunGraph validates and executes a graph. When validation finds
// issues the run is not started and the issues are returned instead of
// an execution id.
func (s *Service) RunGraph(ctx context.Context, g types.WorkflowGraph) (string, []types.ValidationIssue, error) {
	issues := s.validator.Validate(g)
	for _, iss := range issues {
		metrics.ValidationIssuesTotal.WithLabelValues(iss.Code).Inc()
	}
	if len(issues) > 0 {
		return "", issues, nil
	}

	if s.engine.ActiveRuns() >= s.maxRuns {
		return "", nil, ErrTooManyRuns
	}

	executionID, err := s.engine.Run(ctx, g)
	if err != nil {
		return "", nil, err
	}
	s.tracker.ExpectRun(executionID, g.ID, g.Name)
	if s.prefs != nil {
		s.prefs.SetLastRunID(executionID)
	}

	s.logger.Info("run started",
		"execution_id", executionID,
		"workflow_id", g.ID,
		"workflow_name", g.Name,
		"nodes", len(g.Nodes),
	)
	return executionID, nil, nil
}

// RunWorkflow loads a saved definition and executes it. It satisfies
// the schedule manager's Runner interface.
func (s *Service) RunWorkflow(ctx context.Context, workflowID string) error {
	saved, err := s.flows.Get(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("load workflow %s: %w", workflowID, err)
	}

	_, issues, err := s.RunGraph(ctx, saved.Graph)
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		return fmt.Errorf("workflow %s failed validation with %d issues", workflowID, len(issues))
	}
	return nil
}

// Stop cancels an in-flight run and drives its session terminal
// directly. The run_stop event from the engine can be dropped when a
// subscriber lags, so the stop action never waits for it; terminal
// status is monotonic and the late event is a no-op. Runs the engine
// does not know about (external sessions) are force-stopped in the
// tracker alone.
func (s *Service) Stop(executionID string) error {
	if err := s.engine.Stop(executionID); err != nil {
		if !errors.Is(err, engine.ErrExecutionUnknown) {
			return err
		}
		return s.tracker.ForceStop(executionID)
	}
	if err := s.tracker.ForceStop(executionID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return err
	}
	return nil
}
