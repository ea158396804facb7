package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/copyleftdev/spsa/internal/errors"
	"github.com/copyleftdev/spsa/internal/metrics"
	"github.com/copyleftdev/spsa/internal/objectives"
	"github.com/copyleftdev/spsa/internal/optimization"
	"github.com/copyleftdev/spsa/internal/optimization/spsa"
	"github.com/copyleftdev/spsa/internal/trace"
)

// JobStatus is the lifecycle state of a minimization job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusConverged JobStatus = "converged"
	StatusExhausted JobStatus = "exhausted"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusConverged, StatusExhausted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// MinimizeRequest starts a job.
type MinimizeRequest struct {
	// Objective is the name of a registered objective.
	Objective string            `json:"objective"`
	Params    objectives.Params `json:"params"`
	// X0 is the starting point.
	X0 []float64 `json:"x0"`
	// Seed makes the run reproducible. Without one the server draws a seed
	// and reports it in the job status.
	Seed     *uint64            `json:"seed,omitempty"`
	Settings *SettingsOverrides `json:"settings,omitempty"`
}

// SettingsOverrides replaces the configured defaults for one job.
type SettingsOverrides struct {
	Tolerance        *float64 `json:"tolerance,omitempty"`
	MaxIterations    *int     `json:"max_iterations,omitempty"`
	LR               *float64 `json:"lr,omitempty"`
	Alpha            *float64 `json:"alpha,omitempty"`
	Perturb          *float64 `json:"perturb,omitempty"`
	Gamma            *float64 `json:"gamma,omitempty"`
	Blocking         *bool    `json:"blocking,omitempty"`
	AllowedIncrease  *float64 `json:"allowed_increase,omitempty"`
	Concurrent       *bool    `json:"concurrent,omitempty"`
	AbortOnNonFinite *bool    `json:"abort_on_non_finite,omitempty"`
}

func (o *SettingsOverrides) apply(s spsa.Settings) spsa.Settings {
	if o == nil {
		return s
	}
	setFloat(&s.Tolerance, o.Tolerance)
	setFloat(&s.LR, o.LR)
	setFloat(&s.Alpha, o.Alpha)
	setFloat(&s.Perturb, o.Perturb)
	setFloat(&s.Gamma, o.Gamma)
	setFloat(&s.AllowedIncrease, o.AllowedIncrease)
	if o.MaxIterations != nil {
		s.MaxIterations = *o.MaxIterations
	}
	if o.Blocking != nil {
		s.Blocking = *o.Blocking
	}
	if o.Concurrent != nil {
		s.Concurrent = *o.Concurrent
	}
	if o.AbortOnNonFinite != nil {
		s.AbortOnNonFinite = *o.AbortOnNonFinite
	}
	return s
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// Job is a minimization run owned by the server. Its fields are guarded by
// the server's job lock.
type Job struct {
	ID            string
	Objective     string
	Seed          uint64
	Status        JobStatus
	StartTime     time.Time
	EndTime       *time.Time
	LastUpdated   time.Time
	MaxIterations int
	TracePath     string
	Result        *optimization.OptimizationResult
	Err           error

	optimizer *spsa.Optimizer
	cancel    context.CancelFunc
	started   bool
}

// startJob validates req, registers a pending job and starts it.
func (s *Server) startJob(req MinimizeRequest) (*Job, error) {
	objective, err := objectives.Lookup(req.Objective, req.Params)
	if err != nil {
		return nil, err
	}
	if len(req.X0) == 0 {
		return nil, optimization.NewError(optimization.KindShapeMismatch, "x0 must be a non-empty vector").
			WithComponent("server")
	}

	seed := rand.Uint64()
	if req.Seed != nil {
		seed = *req.Seed
	}
	settings := req.Settings.apply(s.cfg.SPSASettings()).WithSeed(seed)
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := s.logger.WithFields(map[string]interface{}{
		"job_id":    id,
		"objective": req.Objective,
	})
	settings.Logger = logger

	var tw *trace.Writer
	if dir := s.cfg.Optimization.TraceDir; dir != "" {
		tw, err = trace.NewWriter(dir, id)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace: %w", err)
		}
	}

	var recorders spsa.Recorders
	if s.metrics != nil {
		recorders = append(recorders, s.metrics)
	}
	if tw != nil {
		recorders = append(recorders, tw)
	}
	settings.Recorder = recorders

	ctx, cancel := context.WithCancel(s.ctx)
	now := time.Now()
	job := &Job{
		ID:            id,
		Objective:     req.Objective,
		Seed:          seed,
		Status:        StatusPending,
		StartTime:     now,
		LastUpdated:   now,
		MaxIterations: settings.MaxIterations,
		optimizer:     spsa.NewOptimizer(settings),
		cancel:        cancel,
	}
	if tw != nil {
		job.TracePath = tw.FilePath()
	}

	s.jobsMu.Lock()
	s.jobs[id] = job
	s.jobsMu.Unlock()

	s.wg.Add(1)
	go s.runJob(ctx, job, objective, append([]float64(nil), req.X0...), tw)

	logger.Info("Minimization queued", map[string]interface{}{
		"seed":           seed,
		"dimension":      len(req.X0),
		"max_iterations": settings.MaxIterations,
	})
	return job, nil
}

// runJob waits for a worker slot and runs the job to completion.
func (s *Server) runJob(ctx context.Context, job *Job, objective optimization.ObjectiveFunction, x0 []float64, tw *trace.Writer) {
	defer s.wg.Done()
	defer job.cancel()
	if tw != nil {
		defer func() {
			if err := tw.Close(); err != nil {
				s.logger.Error("Failed to close trace", map[string]interface{}{
					"job_id": job.ID,
					"error":  err.Error(),
				})
			}
		}()
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.finishJob(job, nil, err)
		return
	}
	defer s.sem.Release(1)

	s.jobsMu.Lock()
	if job.Status == StatusPending {
		job.Status = StatusRunning
	}
	job.started = true
	job.LastUpdated = time.Now()
	s.jobsMu.Unlock()
	if s.metrics != nil {
		s.metrics.RunStarted()
	}

	result, err := job.optimizer.Optimize(ctx, optimization.OptimizerConfig{
		Objective:       objective,
		InitialPosition: x0,
		Verbose:         true,
	})
	s.finishJob(job, result, err)
}

// finishJob moves job to its terminal state.
func (s *Server) finishJob(job *Job, result *optimization.OptimizationResult, err error) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	var outcome metrics.Outcome
	switch {
	case stderrors.Is(err, context.Canceled):
		outcome = metrics.OutcomeCancelled
		job.Status = StatusCancelled
	case err != nil:
		outcome = metrics.OutcomeFailed
		job.Status = StatusFailed
		job.Err = err
	case result.Converged:
		outcome = metrics.OutcomeConverged
		job.Status = StatusConverged
	default:
		outcome = metrics.OutcomeExhausted
		job.Status = StatusExhausted
	}
	job.Result = result

	now := time.Now()
	job.EndTime = &now
	job.LastUpdated = now

	iterations := 0
	if st := job.optimizer.State(); st != nil {
		iterations = st.NumIterations
	}
	if s.metrics != nil && job.started {
		s.metrics.RunFinished(outcome, iterations)
	}

	fields := map[string]interface{}{
		"job_id":     job.ID,
		"status":     string(job.Status),
		"iterations": iterations,
		"duration":   now.Sub(job.StartTime).String(),
	}
	if job.Err != nil {
		fields["error"] = job.Err.Error()
		s.logger.Error("Minimization failed", fields)
		return
	}
	s.logger.Info("Minimization finished", fields)
}

// cancelJob requests cancellation of a pending or running job.
func (s *Server) cancelJob(id string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %q: %w", id, errors.ErrNotFound)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("cannot cancel job with status %s: %w", job.Status, errors.ErrConflict)
	}

	job.cancel()
	job.LastUpdated = time.Now()

	s.logger.Info("Minimization cancellation requested", map[string]interface{}{
		"job_id": id,
	})
	return nil
}

// SolutionView is a point and its objective value.
type SolutionView struct {
	Parameters []optimization.Float `json:"parameters"`
	Value      optimization.Float   `json:"value"`
}

// IterationView is one entry of a job's history.
type IterationView struct {
	Iteration  int                  `json:"iteration"`
	Parameters []optimization.Float `json:"parameters"`
	Value      optimization.Float   `json:"value"`
	Accepted   bool                 `json:"accepted"`
	Error      string               `json:"error,omitempty"`
}

// StatusResponse describes a job.
type StatusResponse struct {
	ID           string          `json:"id"`
	Status       JobStatus       `json:"status"`
	Objective    string          `json:"objective"`
	Seed         uint64          `json:"seed"`
	Progress     float64         `json:"progress"`
	Iterations   int             `json:"iterations"`
	Evaluations  int             `json:"evaluations,omitempty"`
	Converged    bool            `json:"converged"`
	StartTime    string          `json:"start_time"`
	LastUpdate   string          `json:"last_update"`
	EndTime      string          `json:"end_time,omitempty"`
	Error        string          `json:"error,omitempty"`
	TracePath    string          `json:"trace_path,omitempty"`
	BestSolution *SolutionView   `json:"best_solution,omitempty"`
	Final        *SolutionView   `json:"final,omitempty"`
	History      []IterationView `json:"history,omitempty"`
}

// jobStatus reports the current state of the job with the given id.
func (s *Server) jobStatus(id string, withHistory bool) (*StatusResponse, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %q: %w", id, errors.ErrNotFound)
	}

	resp := &StatusResponse{
		ID:         job.ID,
		Status:     job.Status,
		Objective:  job.Objective,
		Seed:       job.Seed,
		StartTime:  job.StartTime.Format(time.RFC3339),
		LastUpdate: job.LastUpdated.Format(time.RFC3339),
		TracePath:  job.TracePath,
	}
	if job.EndTime != nil {
		resp.EndTime = job.EndTime.Format(time.RFC3339)
	}
	if job.Err != nil {
		resp.Error = job.Err.Error()
	}

	resp.Iterations = job.optimizer.NumIterations()
	if job.Result != nil {
		resp.Iterations = job.Result.Iterations
		resp.Evaluations = job.Result.Evaluations
		resp.Converged = job.Result.Converged
		resp.Final = solutionView(job.Result.Final)
	}
	if best := job.optimizer.GetBestSolution(); best != nil {
		resp.BestSolution = solutionView(best)
	}

	switch {
	case job.Status.Terminal():
		resp.Progress = 1
	case job.MaxIterations > 0:
		resp.Progress = float64(resp.Iterations) / float64(job.MaxIterations)
	}

	if withHistory {
		history := job.optimizer.GetHistory()
		resp.History = make([]IterationView, len(history))
		for i, eval := range history {
			resp.History[i] = IterationView{
				Iteration:  eval.Iteration,
				Parameters: optimization.Floats(eval.Solution.Parameters),
				Value:      optimization.Float(eval.Solution.Value),
				Accepted:   eval.Accepted,
			}
			if eval.Error != nil {
				resp.History[i].Error = eval.Error.Error()
			}
		}
	}
	return resp, nil
}

func solutionView(sol *optimization.Solution) *SolutionView {
	if sol == nil {
		return nil
	}
	return &SolutionView{
		Parameters: optimization.Floats(sol.Parameters),
		Value:      optimization.Float(sol.Value),
	}
}
