// Package regen drives the bounded chart regeneration loop: ask the LLM
// for rendering instructions, render them in isolation, validate the
// layout, and feed violations back into the next prompt until the chart
// passes or the retry budget runs out. One controller serves one request
// at a time; the pipeline creates a controller per chart.
package regen

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/oviney/economist-agents-sub001/internal/chartspec"
	"github.com/oviney/economist-agents-sub001/internal/layout"
	"github.com/oviney/economist-agents-sub001/internal/llm"
	"github.com/oviney/economist-agents-sub001/internal/logging"
	"github.com/oviney/economist-agents-sub001/internal/metrics"
	"github.com/oviney/economist-agents-sub001/internal/render"
)

// State names one stage of the regeneration loop.
type State string

const (
	StateRequested  State = "requested"
	StateGenerating State = "generating"
	StateRendering  State = "rendering"
	StateValidating State = "validating"
	StateAccepted   State = "accepted"
	StateRetrying   State = "retrying"
	StateExhausted  State = "exhausted"
)

// Transition records one state change, kept in request order.
type Transition struct {
	From    State     `json:"from"`
	To      State     `json:"to"`
	Attempt int       `json:"attempt"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

// Request is one chart to produce.
type Request struct {
	// ID correlates logs, metrics, and artifact names. Generated when
	// empty.
	ID string

	// Spec is the validated chart contract. A spec failing validation
	// stops the request before any LLM call.
	Spec *chartspec.ChartSpec

	// SourceNote is the attribution line to draw, when the dataset
	// carries one.
	SourceNote string

	// DataNotes is optional prose context forwarded to the LLM.
	DataNotes string
}

// Result is the controller's verdict on one request.
type Result struct {
	RequestID    string
	ArtifactPath string
	Report       *layout.Report
	Accepted     bool
	Outcome      State
	Attempts     int
	History      []Transition
}

// Renderer runs one isolated render attempt. *render.Backend implements it.
type Renderer interface {
	Render(ctx context.Context, spec *chartspec.ChartSpec, instructions, requestID string, attemptNo int) (*render.Attempt, error)
}

// Collector receives attempts and transitions as they occur, so an
// interrupted run still leaves a usable trace. *metrics.Store implements it.
type Collector interface {
	StartChart(requestID string) *metrics.ChartHandle
	RecordAttempt(h *metrics.ChartHandle, attempt *render.Attempt, report *layout.Report)
	RecordTransition(h *metrics.ChartHandle, from, to string)
}

// Config bounds the loop.
type Config struct {
	MaxAttempts int
}

// DefaultConfig allows the initial attempt plus two retries.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3}
}

// Controller owns one request's regeneration loop.
type Controller struct {
	llm       llm.Client
	renderer  Renderer
	validator *layout.Validator
	collector Collector
	cfg       Config
}

// NewController wires the loop's collaborators. A nil collector disables
// metrics recording; everything else is required.
func NewController(client llm.Client, renderer Renderer, validator *layout.Validator, collector Collector, cfg Config) *Controller {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Controller{
		llm:       client,
		renderer:  renderer,
		validator: validator,
		collector: collector,
		cfg:       cfg,
	}
}

// attemptOutcome pairs a render attempt with its validation report, nil
// when the attempt never rendered.
type attemptOutcome struct {
	attempt *render.Attempt
	report  *layout.Report
}

// Run drives one request to acceptance or exhaustion. The returned error
// covers infrastructure problems and invalid input; a chart that merely
// fails QA comes back as a non-accepted Result carrying the best attempt.
func (c *Controller) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Spec == nil {
		return nil, fmt.Errorf("chart spec is required")
	}
	if err := req.Spec.Validate(); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()[:8]
	}
	rl := logging.WithRequestID(logging.CategoryRegen, id)
	rl.Info("request started: %q (%s, %d series, budget %d)",
		req.Spec.Title, req.Spec.Kind, len(req.Spec.Series), c.cfg.MaxAttempts)
	audit := logging.Audit()
	audit.ChartRequested(id, string(req.Spec.Kind), len(req.Spec.Series))
	started := time.Now()

	var handle *metrics.ChartHandle
	if c.collector != nil {
		handle = c.collector.StartChart(id)
	}

	res := &Result{RequestID: id}
	state := StateRequested
	transition := func(to State, attempt int, note string) {
		res.History = append(res.History, Transition{
			From:    state,
			To:      to,
			Attempt: attempt,
			Note:    note,
			At:      time.Now(),
		})
		if c.collector != nil {
			c.collector.RecordTransition(handle, string(state), string(to))
		}
		audit.RegenTransition(id, string(state), string(to), note)
		rl.Debug("%s -> %s (attempt %d) %s", state, to, attempt, note)
		state = to
	}

	var best *attemptOutcome
	feedback := ""

	for attemptNo := 1; attemptNo <= c.cfg.MaxAttempts; attemptNo++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		transition(StateGenerating, attemptNo, "")
		prompt := BuildPrompt(req, c.validator.Thresholds(), feedback, attemptNo)
		raw, err := c.llm.CompleteWithSystem(ctx, systemPrompt, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			// A generation failure burns the attempt like a failed render
			// would; the raw error is the retry note.
			rl.Warn("attempt %d: instruction generation failed: %v", attemptNo, err)
			failed := &render.Attempt{
				Number:      attemptNo,
				RenderError: fmt.Sprintf("instruction generation failed: %v", err),
			}
			if c.collector != nil {
				c.collector.RecordAttempt(handle, failed, nil)
			}
			best = betterAttempt(best, &attemptOutcome{attempt: failed})
			if attemptNo < c.cfg.MaxAttempts {
				transition(StateRetrying, attemptNo, "generation failed")
				continue
			}
			transition(StateExhausted, attemptNo, "generation failed on final attempt")
			break
		}
		script := ExtractScript(raw)

		transition(StateRendering, attemptNo, "")
		attempt, err := c.renderer.Render(ctx, req.Spec, script, id, attemptNo)
		if err != nil {
			return nil, fmt.Errorf("render backend rejected attempt %d: %w", attemptNo, err)
		}
		audit.RenderAttempt(id, attemptNo, attempt.RenderOK, attempt.Duration.Milliseconds(), attempt.RenderError)

		if !attempt.RenderOK {
			// Failed renders skip validation entirely; the failure text is
			// the feedback.
			if c.collector != nil {
				c.collector.RecordAttempt(handle, attempt, nil)
			}
			best = betterAttempt(best, &attemptOutcome{attempt: attempt})
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			feedback = renderFailureFeedback(attempt.RenderError)
			if attemptNo < c.cfg.MaxAttempts {
				transition(StateRetrying, attemptNo, "render failed")
				continue
			}
			transition(StateExhausted, attemptNo, "render failed on final attempt")
			break
		}

		transition(StateValidating, attemptNo, "")
		report := c.validator.Validate(req.Spec, attempt.Elements)
		audit.ValidationResult(id, attemptNo, report.Passed, report.CriticalCount(), report.WarningCount())
		if c.collector != nil {
			c.collector.RecordAttempt(handle, attempt, &report)
		}
		best = betterAttempt(best, &attemptOutcome{attempt: attempt, report: &report})

		if report.Passed {
			transition(StateAccepted, attemptNo, "")
			rl.Info("accepted on attempt %d (%d warnings)", attemptNo, report.WarningCount())
			audit.ChartDone(id, true, attemptNo, time.Since(started).Milliseconds())
			res.Accepted = true
			res.Outcome = StateAccepted
			res.Attempts = attemptNo
			res.ArtifactPath = attempt.ArtifactPath
			res.Report = &report
			return res, nil
		}

		rl.Info("attempt %d failed validation: %d critical, %d warnings",
			attemptNo, report.CriticalCount(), report.WarningCount())
		feedback = violationFeedback(req.Spec, report, attempt.Elements)
		if attemptNo < c.cfg.MaxAttempts {
			transition(StateRetrying, attemptNo, fmt.Sprintf("%d critical violations", report.CriticalCount()))
			continue
		}
		transition(StateExhausted, attemptNo, "retry budget spent")
	}

	res.Outcome = StateExhausted
	res.Attempts = c.cfg.MaxAttempts
	if best != nil && best.attempt != nil {
		res.ArtifactPath = best.attempt.ArtifactPath
		res.Report = best.report
	}
	rl.Info("exhausted after %d attempts, best attempt %s", res.Attempts, describeBest(best))
	audit.ChartDone(id, false, res.Attempts, time.Since(started).Milliseconds())
	return res, nil
}

// betterAttempt keeps the stronger of two attempts: any rendered attempt
// beats any failed one, fewer critical violations beats more, and earlier
// wins ties.
func betterAttempt(cur, cand *attemptOutcome) *attemptOutcome {
	if cur == nil {
		return cand
	}
	curOK := cur.attempt != nil && cur.attempt.RenderOK
	candOK := cand.attempt != nil && cand.attempt.RenderOK
	if curOK != candOK {
		if candOK {
			return cand
		}
		return cur
	}
	if candOK && criticalCount(cand.report) < criticalCount(cur.report) {
		return cand
	}
	return cur
}

func criticalCount(r *layout.Report) int {
	if r == nil {
		return math.MaxInt
	}
	return r.CriticalCount()
}

func describeBest(best *attemptOutcome) string {
	switch {
	case best == nil || best.attempt == nil:
		return "none"
	case !best.attempt.RenderOK:
		return fmt.Sprintf("#%d (render failed)", best.attempt.Number)
	default:
		return fmt.Sprintf("#%d (%d critical)", best.attempt.Number, criticalCount(best.report))
	}
}
