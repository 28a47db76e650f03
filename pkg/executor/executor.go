// Package executor runs validated plan sets against the logical databases.
// Plans targeting different databases execute independently, without a
// distributed transaction; their results merge in memory on the planner's
// declared join key.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/podoskin/agent-core/pkg/apperrors"
	"github.com/podoskin/agent-core/pkg/audit"
	"github.com/podoskin/agent-core/pkg/database"
	"github.com/podoskin/agent-core/pkg/logging"
	"github.com/podoskin/agent-core/pkg/models"
	"github.com/podoskin/agent-core/pkg/retry"
)

// planState tracks one plan through its lifecycle.
type planState string

const (
	statePending   planState = "pending"
	stateExecuting planState = "executing"
	stateSucceeded planState = "succeeded"
	stateFailed    planState = "failed"
)

// Result is the merged outcome of one plan set.
type Result struct {
	Shape    models.ResultShape
	Rows     []map[string]any
	Count    any
	Affected int64
	// Summary is the leading template's formatter copy.
	Summary string
}

// Coordinator executes plan sets with bounded retry on transient failures.
type Coordinator struct {
	pools     database.Pools
	dbTimeout time.Duration
	retryCfg  *retry.Config
	sink      audit.Sink
	logger    *zap.Logger
}

// New creates a coordinator over the connected pools. dbTimeout bounds each
// statement attempt.
func New(pools database.Pools, dbTimeout time.Duration, sink audit.Sink, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		pools:     pools,
		dbTimeout: dbTimeout,
		retryCfg:  retry.DefaultConfig(),
		sink:      sink,
		logger:    logger.Named("executor"),
	}
}

// Execute runs every plan in the set and merges the results. Mutating sets
// require confirmed; without it no statement runs. If any constituent plan
// fails, the whole execution fails - a partial cross-database result is
// never presented as complete.
func (c *Coordinator) Execute(ctx context.Context, set *models.PlanSet, traceID string, confirmed bool) (*Result, error) {
	if len(set.Plans) == 0 {
		return nil, fmt.Errorf("empty plan set")
	}
	if set.Mutating() && !confirmed {
		return nil, apperrors.ErrConfirmationRequired
	}

	results := make([]*planResult, 0, len(set.Plans))
	for i := range set.Plans {
		res, err := c.executePlan(ctx, &set.Plans[i], traceID)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	first := results[0]
	out := &Result{
		Shape:    first.shape,
		Affected: first.affected,
		Count:    first.count,
		Summary:  set.Plans[0].Summary,
	}

	if first.shape == models.ShapeRows {
		out.Rows = first.rows
		if len(results) > 1 {
			out.Rows = mergeRows(results, set.MergeKey)
		}
	}

	return out, nil
}

type planResult struct {
	shape    models.ResultShape
	rows     []map[string]any
	count    any
	affected int64
}

// executePlan drives one plan through pending → executing → terminal state.
// Each attempt carries its own timeout; only transient failures retry. Once
// a mutating statement starts, cancellation of the caller's context no
// longer aborts it - the statement runs to a definite outcome.
func (c *Coordinator) executePlan(ctx context.Context, plan *models.QueryPlan, traceID string) (*planResult, error) {
	state := statePending
	started := time.Now()

	execCtx := ctx
	if plan.Mutating {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Transient(err)
		}
		execCtx = context.WithoutCancel(ctx)
	}

	querier, err := c.pools.For(plan.TargetDB)
	if err != nil {
		return nil, err
	}

	var result planResult
	result.shape = plan.Shape

	err = retry.DoIfRetryable(execCtx, c.retryCfg, func() error {
		state = stateExecuting
		attemptCtx, cancel := context.WithTimeout(execCtx, c.dbTimeout)
		defer cancel()

		if plan.Mutating {
			affected, execErr := querier.ExecStatement(attemptCtx, plan.Statement, plan.Args...)
			if execErr != nil {
				return execErr
			}
			result.affected = affected
			return nil
		}

		rows, queryErr := querier.QueryRows(attemptCtx, plan.Statement, plan.Args...)
		if queryErr != nil {
			return queryErr
		}
		result.rows = rows
		if plan.Shape == models.ShapeCount {
			result.count = extractCount(rows)
		}
		return nil
	})

	outcome := "ok"
	if err != nil {
		state = stateFailed
		outcome = "transient"
		if !retry.IsRetryable(err) {
			outcome = "integrity"
		}
	} else {
		state = stateSucceeded
	}

	c.sink.Record(audit.Event{
		EventType: audit.EventPlanExecution,
		TraceID:   traceID,
		Details: audit.PlanDetails{
			TemplateID: plan.TemplateID,
			TargetDB:   string(plan.TargetDB),
			Mutating:   plan.Mutating,
			Outcome:    outcome,
			DurationMS: time.Since(started).Milliseconds(),
		},
		Severity: severityFor(outcome),
	})

	c.logger.Debug("Plan finished",
		zap.String("trace_id", traceID),
		zap.String("template_id", plan.TemplateID),
		zap.String("state", string(state)))

	if err != nil {
		c.logger.Warn("Plan execution failed",
			zap.String("trace_id", traceID),
			zap.String("template_id", plan.TemplateID),
			zap.String("statement", logging.SanitizeStatement(plan.Statement)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, err
	}
	return &result, nil
}

func severityFor(outcome string) string {
	if outcome == "ok" {
		return "info"
	}
	return "warning"
}

// mergeRows joins the leading plan's rows with every later plan's rows on
// the merge key. Rows from later plans contribute columns the leading row
// does not already have; leading rows without a match pass through as-is.
func mergeRows(results []*planResult, mergeKey string) []map[string]any {
	merged := make([]map[string]any, 0, len(results[0].rows))

	lookups := make([]map[string]map[string]any, 0, len(results)-1)
	for _, res := range results[1:] {
		lookup := make(map[string]map[string]any, len(res.rows))
		for _, row := range res.rows {
			if key, ok := row[mergeKey]; ok {
				lookup[fmt.Sprintf("%v", key)] = row
			}
		}
		lookups = append(lookups, lookup)
	}

	for _, row := range results[0].rows {
		out := make(map[string]any, len(row))
		for k, v := range row {
			out[k] = v
		}
		if key, ok := row[mergeKey]; ok {
			keyStr := fmt.Sprintf("%v", key)
			for _, lookup := range lookups {
				if match, found := lookup[keyStr]; found {
					for k, v := range match {
						if _, exists := out[k]; !exists {
							out[k] = v
						}
					}
				}
			}
		}
		merged = append(merged, out)
	}

	return merged
}

// extractCount pulls the single aggregate value from a count-shaped result.
func extractCount(rows []map[string]any) any {
	if len(rows) == 0 {
		return int64(0)
	}
	if v, ok := rows[0]["count"]; ok {
		return v
	}
	for _, v := range rows[0] {
		return v
	}
	return int64(0)
}
