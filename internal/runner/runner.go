// Package runner executes tests: it renders a prompt version with a dataset
// row (or custom variables), calls the provider, runs the configured
// evaluators and persists the resulting TestRun.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/timvw/prompt-tracker/internal/conversation"
	"github.com/timvw/prompt-tracker/internal/evaluators"
	"github.com/timvw/prompt-tracker/internal/llm"
	"github.com/timvw/prompt-tracker/internal/logger"
	"github.com/timvw/prompt-tracker/internal/model"
	"github.com/timvw/prompt-tracker/internal/otel"
	"github.com/timvw/prompt-tracker/internal/render"
)

// Store persists test runs.
type Store interface {
	CreateTestRun(ctx context.Context, run *model.TestRun) error
	UpdateTestRun(ctx context.Context, run *model.TestRun) error
	AddEvaluations(ctx context.Context, runID string, evals []model.Evaluation) error
}

// ClientFactory returns the client for a prompt version's model config.
type ClientFactory func(cfg model.ModelConfig) (llm.Client, error)

// Runner executes test runs. Registry, Clients and Store are required.
type Runner struct {
	Registry *evaluators.Registry
	Clients  ClientFactory
	Store    Store
	// Interlocutor plays the user in conversational runs.
	Interlocutor llm.Client

	Metrics *otel.Metrics
	Logger  *logger.Logger
	Tracer  trace.Tracer
	// Limiter paces run starts across a batch; nil is unlimited.
	Limiter *rate.Limiter
	// Timeout bounds a single run; 0 disables it.
	Timeout time.Duration
}

// Job is one test execution request.
type Job struct {
	Test    *model.Test
	Prompt  *model.Prompt
	Version *model.PromptVersion
	// Dataset and Row are nil for runs driven by CustomVariables.
	Dataset         *model.Dataset
	Row             *model.DatasetRow
	CustomVariables map[string]any
}

// Mode returns the evaluator mode of the job.
func (j Job) Mode() string {
	return model.RunMode(j.Dataset, j.Row)
}

func (r *Runner) log() *logger.Logger {
	if r.Logger == nil {
		return logger.Nop()
	}
	return r.Logger
}

func (r *Runner) tracer() trace.Tracer {
	if r.Tracer == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return r.Tracer
}

// Execute runs job to completion. Vendor, render and evaluator failures end
// in a persisted run with status error or failed; the returned error is
// reserved for persistence failures and invalid jobs.
func (r *Runner) Execute(ctx context.Context, job Job) (*model.TestRun, error) {
	if job.Test == nil || job.Prompt == nil || job.Version == nil {
		return nil, errors.New("job requires a test, prompt and version")
	}

	rowID := ""
	if job.Row != nil {
		rowID = job.Row.ID
	}
	run := model.NewTestRun(job.Test.Name, job.Prompt.Slug, job.Version.Number, rowID)
	if job.Row == nil && job.CustomVariables != nil {
		run.Metadata[model.MetaCustomVariables] = job.CustomVariables
	}
	mode := job.Mode()
	run.Metadata[model.MetaExecutionMode] = mode

	if err := r.Store.CreateTestRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create test run: %w", err)
	}
	log := r.log().With("test", run.TestName, "run_id", run.ID, "row", rowID)

	if err := run.MarkRunning(); err != nil {
		return run, err
	}
	if err := r.Store.UpdateTestRun(ctx, run); err != nil {
		return run, fmt.Errorf("mark test run running: %w", err)
	}

	ctx, span := r.tracer().Start(ctx, "test_run "+run.TestName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("test.name", run.TestName),
			attribute.String("test_run.id", run.ID),
			attribute.String("prompt.slug", run.PromptSlug),
			attribute.Int("prompt.version", run.VersionNumber),
			attribute.String("dataset.row_id", rowID),
			attribute.String("test_run.mode", mode),
		),
	)
	defer span.End()

	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	evals, execErr := r.execute(runCtx, job, run, mode, log)
	if execErr != nil {
		log.Warn("test run errored", "error", execErr)
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
		if err := run.Fail(execErr); err != nil {
			return run, err
		}
	} else {
		passed, score := evaluators.Aggregate(evals)
		if err := r.Store.AddEvaluations(ctx, run.ID, evals); err != nil {
			return run, fmt.Errorf("store evaluations: %w", err)
		}
		run.Evaluations = evals
		if err := run.Complete(passed, score); err != nil {
			return run, err
		}
		span.SetAttributes(attribute.Bool("test_run.passed", passed))
		if score != nil {
			span.SetAttributes(attribute.Float64("test_run.score", *score))
		}
	}
	span.SetAttributes(attribute.String("test_run.status", run.Status))

	if err := r.Store.UpdateTestRun(ctx, run); err != nil {
		return run, fmt.Errorf("finish test run: %w", err)
	}
	r.Metrics.RecordTestRun(ctx, run.TestName, run.Status, time.Duration(run.ExecutionTimeMs)*time.Millisecond)
	log.Info("test run finished", "status", run.Status, "score", scoreValue(run.Score), "duration_ms", run.ExecutionTimeMs)
	return run, nil
}

// execute fills run with the rendered prompts, conversation and usage and
// returns the evaluations. Errors mean the run could not be carried out.
func (r *Runner) execute(ctx context.Context, job Job, run *model.TestRun, mode string, log *logger.Logger) ([]model.Evaluation, error) {
	vars := variables(job, run)
	vars = render.ApplyDefaults(job.Version.VariablesSchema, vars)
	if errs := render.ValidateVariables(job.Version.VariablesSchema, vars); len(errs) > 0 {
		return nil, fmt.Errorf("invalid variables: %s", strings.Join(errs, "; "))
	}

	rendered, err := render.Preview(job.Version, vars, render.Options{})
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	run.RenderedSystemPrompt = rendered.SystemPrompt
	run.RenderedUserPrompt = rendered.UserPrompt

	client, err := r.Clients(job.Version.ModelConfig)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	client = metered(client, job.Version.ModelConfig.API, r.Metrics)
	run.Provider = client.Provider()
	run.Model = client.Model()

	var toolCalls []model.ToolCall
	if mode == model.DatasetConversational {
		toolCalls, err = r.converse(ctx, job, run, client, rendered)
	} else {
		toolCalls, err = r.complete(ctx, job, run, client, rendered)
	}
	if err != nil {
		return nil, err
	}
	log.Debug("provider finished", "model", run.Model, "tokens", run.Usage.TotalTokens)

	input := evaluators.Input{
		Response:     run.LastAssistantMessage(),
		Messages:     run.Messages,
		ToolCalls:    toolCalls,
		Variables:    vars,
		SystemPrompt: rendered.SystemPrompt,
		UserPrompt:   rendered.UserPrompt,
	}
	return r.evaluate(ctx, job.Test, mode, input, log), nil
}

// variables returns the row data for dataset runs and the custom variables
// stored in run metadata otherwise.
func variables(job Job, run *model.TestRun) map[string]any {
	if job.Row != nil {
		return job.Row.RowData
	}
	return run.CustomVariables()
}

func (r *Runner) complete(ctx context.Context, job Job, run *model.TestRun, client llm.Client, rendered *render.Rendered) ([]model.ToolCall, error) {
	mc := job.Version.ModelConfig
	user := model.Message{Role: model.RoleUser, Content: rendered.UserPrompt, Turn: 1}
	run.Messages = []model.Message{user}

	resp, err := client.Complete(ctx, llm.Request{
		SystemPrompt: rendered.SystemPrompt,
		Messages:     []model.Message{user},
		Temperature:  mc.Temperature,
		TopP:         mc.TopP,
		MaxTokens:    mc.MaxTokens,
		Tools:        mc.Tools,
	})
	if err != nil {
		return nil, fmt.Errorf("provider call: %w", err)
	}
	run.Usage.Add(resp.Usage)
	run.Messages = append(run.Messages, model.Message{
		Role:      model.RoleAssistant,
		Content:   resp.Text,
		Turn:      1,
		ToolCalls: resp.ToolCalls,
	})
	recordResponseMetadata(run, resp)
	return resp.ToolCalls, nil
}

func (r *Runner) converse(ctx context.Context, job Job, run *model.TestRun, client llm.Client, rendered *render.Rendered) ([]model.ToolCall, error) {
	if r.Interlocutor == nil {
		return nil, errors.New("conversational run requires an interlocutor client")
	}
	mc := job.Version.ModelConfig
	conv := &conversation.Runner{
		Assistant:    client,
		Interlocutor: metered(r.Interlocutor, "", r.Metrics),
	}
	res, err := conv.Run(ctx, conversation.Params{
		SystemPrompt:       rendered.SystemPrompt,
		FirstUserMessage:   rendered.UserPrompt,
		InterlocutorPrompt: job.Row.InterlocutorPrompt(),
		MaxTurns:           job.Row.MaxTurns(),
		Temperature:        mc.Temperature,
		TopP:               mc.TopP,
		MaxTokens:          mc.MaxTokens,
		Tools:              mc.Tools,
	})
	if res != nil {
		run.Messages = res.Messages
		run.Usage = res.Usage
		run.Metadata[model.MetaTurns] = res.Turns
		if res.Ended != "" {
			run.Metadata[model.MetaConversationEnd] = res.Ended
		}
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}

	var calls []model.ToolCall
	for _, resp := range res.Responses {
		calls = append(calls, resp.ToolCalls...)
	}
	if n := len(res.Responses); n > 0 {
		recordResponseMetadata(run, res.Responses[n-1])
	}
	return calls, nil
}

// recordResponseMetadata keeps vendor identifiers and hosted-tool output of
// the final response.
func recordResponseMetadata(run *model.TestRun, resp *model.LLMResponse) {
	if resp.ResponseID != "" {
		run.Metadata["response_id"] = resp.ResponseID
	}
	if resp.ThreadID != "" {
		run.Metadata["thread_id"] = resp.ThreadID
	}
	if resp.FinishReason != "" {
		run.Metadata["finish_reason"] = resp.FinishReason
	}
	if len(resp.FileSearchResults) > 0 {
		run.Metadata["file_search_results"] = resp.FileSearchResults
	}
	if len(resp.WebSearchResults) > 0 {
		run.Metadata["web_search_results"] = resp.WebSearchResults
	}
}

// evaluate runs every enabled evaluator of test. An evaluator that cannot be
// built or fails yields a failed evaluation carrying the error.
func (r *Runner) evaluate(ctx context.Context, test *model.Test, mode string, in evaluators.Input, log *logger.Logger) []model.Evaluation {
	var out []model.Evaluation
	for _, ec := range test.Evaluators {
		if !ec.IsEnabled() {
			continue
		}
		ev, err := r.Registry.Build(ec, mode)
		var res evaluators.Result
		if err == nil {
			res, err = ev.Evaluate(ctx, in)
		}
		e := model.Evaluation{EvaluatorKey: ec.Key}
		outcome := "failed"
		switch {
		case err != nil:
			log.Warn("evaluator failed", "evaluator", ec.Key, "error", err)
			e.Feedback = "evaluator error: " + err.Error()
			e.Metadata = map[string]any{"error": err.Error()}
			outcome = "error"
		default:
			e.Score = res.Score
			e.Passed = res.Passed
			e.Feedback = res.Feedback
			e.Metadata = res.Metadata
			if res.Passed {
				outcome = "passed"
			}
		}
		r.Metrics.RecordEvaluation(ctx, ec.Key, outcome)
		out = append(out, e)
	}
	return out
}

func scoreValue(s *float64) any {
	if s == nil {
		return nil
	}
	return *s
}
