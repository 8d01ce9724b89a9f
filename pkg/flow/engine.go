// Package flow implements the state machine that advances a thinking
// session through its configured flow: quality gates, conditional skips,
// for_each fan-out, and completion detection.
package flow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mcps/deep-thinking/pkg/config"
	"github.com/mcps/deep-thinking/pkg/flow/cond"
	"github.com/mcps/deep-thinking/pkg/models"
)

// RetryMax caps quality-gate retries per step. A step is attempted at most
// RetryMax+1 times before it advances regardless of score.
const RetryMax = 2

// Event describes the step execution whose result was just recorded. The
// engine uses it to decide whether to retry, iterate, or move forward.
type Event struct {
	Step         string
	Iteration    int
	RetryCount   int
	QualityScore *float64
}

// Decision is the engine's verdict on what happens next.
type Decision struct {
	// Next is the cursor for the following work unit. When Completed is
	// true it holds the completion sentinel.
	Next models.Cursor

	// Skipped holds result records for steps passed over during the walk,
	// in flow order. The caller persists them.
	Skipped []*models.StepResult

	// ForEachItem and ForEachTotal describe the fan-out element behind
	// Next when it points at a for_each iteration.
	ForEachItem  any
	ForEachTotal int

	// Completed means the flow has no further steps.
	Completed bool
}

// Advance computes the next cursor after the step described by ev finished.
// It is a pure function of the flow definition and session state; all
// persistence is the caller's responsibility. A ForEachResolutionError
// means the named fan-out step must be marked failed and the cursor held.
func Advance(flowCfg *config.FlowConfig, sess *models.Session, ev Event, now time.Time) (*Decision, error) {
	step, idx := flowCfg.Step(ev.Step)
	if step == nil {
		return nil, fmt.Errorf("%w: step %q not in flow %q", config.ErrStepNotFound, ev.Step, flowCfg.Name)
	}

	// Quality gate. A below-threshold score on a retrying step re-presents
	// the same step until the retry budget is spent, then the flow moves
	// on with whatever the host produced.
	if step.RetryOnFailure && ev.QualityScore != nil && *ev.QualityScore < step.Threshold() {
		if ev.RetryCount < RetryMax {
			d := &Decision{
				Next: models.Cursor{Step: ev.Step, Iteration: ev.Iteration, Retry: ev.RetryCount + 1},
			}
			// A retried fan-out iteration keeps its element so the caller
			// can re-render the iteration prompt.
			if ref := step.ForEachRef(); ref != nil {
				items, err := ResolveForEach(ref, sess.StepOutputs)
				if err != nil {
					return nil, tagStep(err, step.Name)
				}
				if ev.Iteration < len(items) {
					d.ForEachItem = items[ev.Iteration]
					d.ForEachTotal = len(items)
				}
			}
			return d, nil
		}
		slog.Warn("Quality gate retries exhausted, advancing",
			"step", ev.Step,
			"score", *ev.QualityScore,
			"threshold", step.Threshold())
	}

	// Remaining fan-out iterations come before any forward movement.
	if ref := step.ForEachRef(); ref != nil {
		items, err := ResolveForEach(ref, sess.StepOutputs)
		if err != nil {
			return nil, tagStep(err, step.Name)
		}
		if ev.Iteration < len(items)-1 {
			next := ev.Iteration + 1
			return &Decision{
				Next:         models.Cursor{Step: ev.Step, Iteration: next},
				ForEachItem:  items[next],
				ForEachTotal: len(items),
			}, nil
		}
	}

	if step.Final {
		return &Decision{
			Next:      models.Cursor{Step: models.StepComplete},
			Completed: true,
		}, nil
	}

	return walkForward(flowCfg, sess, ev, idx+1, now)
}

// Start selects the first executable step of a fresh session, applying the
// same skip rules as Advance.
func Start(flowCfg *config.FlowConfig, sess *models.Session, now time.Time) (*Decision, error) {
	return walkForward(flowCfg, sess, Event{}, 0, now)
}

// walkForward scans steps from index from onward and returns the first one
// whose dependencies are satisfied and whose conditional holds. Steps with
// a false conditional or an empty fan-out are recorded as skipped; steps
// with unmet dependencies are passed over without a record, since a later
// revisit may still run them.
func walkForward(flowCfg *config.FlowConfig, sess *models.Session, ev Event, from int, now time.Time) (*Decision, error) {
	var env cond.Env
	decision := &Decision{}

	for i := from; i < len(flowCfg.Steps); i++ {
		cand := flowCfg.Steps[i]

		if !depsCompleted(cand, sess) {
			continue
		}

		if expr := cand.Cond(); expr != nil {
			if env == nil {
				env = buildEnv(flowCfg, sess, ev)
			}
			ok, err := expr.Eval(env)
			if err != nil {
				slog.Warn("Conditional evaluation failed, skipping step",
					"step", cand.Name,
					"expression", expr.String(),
					"error", err)
				ok = false
			}
			if !ok {
				decision.Skipped = append(decision.Skipped, skippedResult(cand.Name, now))
				continue
			}
		}

		if ref := cand.ForEachRef(); ref != nil {
			items, err := ResolveForEach(ref, sess.StepOutputs)
			if err != nil {
				return nil, tagStep(err, cand.Name)
			}
			if len(items) == 0 {
				decision.Skipped = append(decision.Skipped, skippedResult(cand.Name, now))
				continue
			}
			decision.Next = models.Cursor{Step: cand.Name}
			decision.ForEachItem = items[0]
			decision.ForEachTotal = len(items)
			return decision, nil
		}

		decision.Next = models.Cursor{Step: cand.Name}
		return decision, nil
	}

	decision.Next = models.Cursor{Step: models.StepComplete}
	decision.Completed = true
	return decision, nil
}

func depsCompleted(step *config.StepConfig, sess *models.Session) bool {
	for _, dep := range step.DependsOn {
		if sess.StepStatusOf(dep) != models.StepCompleted {
			return false
		}
	}
	return true
}

// buildEnv assembles the identifier bindings visible to conditional
// expressions: session-level facts plus per-step scores and statuses.
func buildEnv(flowCfg *config.FlowConfig, sess *models.Session, ev Event) cond.Env {
	env := cond.Env{
		"step_count": sess.CompletedSteps(),
	}

	if c, ok := sess.Context["complexity"].(string); ok {
		env["complexity"] = c
	}

	// quality_score is the score of the step that just finished, falling
	// back to its last recorded value during a fresh walk.
	if ev.QualityScore != nil {
		env["quality_score"] = *ev.QualityScore
	} else if score, ok := sess.QualityScores[ev.Step]; ok {
		env["quality_score"] = score
	}

	for _, s := range flowCfg.Steps {
		if score, ok := sess.QualityScores[s.Name]; ok {
			env[s.Name+".quality_score"] = score
		}
		if status := sess.StepStatusOf(s.Name); status != models.StepPending {
			env[s.Name+".status"] = string(status)
		}
	}

	return env
}

func skippedResult(stepName string, now time.Time) *models.StepResult {
	return &models.StepResult{
		StepName:   stepName,
		Status:     models.StepSkipped,
		StartedAt:  now,
		FinishedAt: now,
	}
}

func tagStep(err error, stepName string) error {
	if fe, ok := err.(*ForEachResolutionError); ok {
		fe.Step = stepName
	}
	return err
}
