package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/timvw/prompt-tracker/internal/model"
	"github.com/timvw/prompt-tracker/internal/suite"
)

// Options control a dataset batch.
type Options struct {
	// Parallel bounds concurrent runs; values below 1 mean 1.
	Parallel int
	// RowIDs restricts the batch to these rows, in dataset order.
	RowIDs []string
	// Variables runs the test once with these custom variables instead of
	// over its dataset.
	Variables map[string]any
}

// Result is the outcome of one row of a batch. Err is set only when the run
// could not be persisted.
type Result struct {
	RowID string
	Run   *model.TestRun
	Err   error
}

// RunDataset executes job once per dataset row with bounded parallelism.
// Results are in row order. A failing row never stops the others.
func (r *Runner) RunDataset(ctx context.Context, job Job, opts Options) ([]Result, error) {
	if job.Dataset == nil {
		return nil, fmt.Errorf("test %q has no dataset", job.Test.Name)
	}
	rows, err := selectRows(job.Dataset, opts.RowIDs)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	parallel := opts.Parallel
	if parallel < 1 {
		parallel = 1
	}
	if parallel > len(rows) {
		parallel = len(rows)
	}

	results := make([]Result, len(rows))
	var wg sync.WaitGroup
	sem := make(chan struct{}, parallel)

	for i, row := range rows {
		wg.Add(1)
		go func(idx int, row *model.DatasetRow) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx].RowID = row.ID
			if r.Limiter != nil {
				if err := r.Limiter.Wait(ctx); err != nil {
					results[idx].Err = fmt.Errorf("row %s: %w", row.ID, err)
					return
				}
			}

			rowJob := job
			rowJob.Row = row
			rowJob.CustomVariables = nil
			run, err := r.Execute(ctx, rowJob)
			results[idx].Run = run
			if err != nil {
				r.log().Error("test run not persisted", "test", job.Test.Name, "row", row.ID, "error", err)
				results[idx].Err = fmt.Errorf("row %s: %w", row.ID, err)
			}
		}(i, row)
	}

	wg.Wait()
	return results, nil
}

// JobFor returns the job of a resolved suite test.
func JobFor(res *suite.Resolved) Job {
	return Job{Test: res.Test, Prompt: res.Prompt, Version: res.Version, Dataset: res.Dataset}
}

// RunTest runs a resolved test: once with opts.Variables when given or when
// the test has no dataset, otherwise over the dataset rows. Custom-variable
// runs are single-turn. Like RunDataset, per-run failures are in the results.
func (r *Runner) RunTest(ctx context.Context, res *suite.Resolved, opts Options) ([]Result, error) {
	if !res.Test.IsEnabled() {
		return nil, fmt.Errorf("test %q is disabled", res.Test.Name)
	}
	job := JobFor(res)
	if opts.Variables == nil && job.Dataset != nil {
		return r.RunDataset(ctx, job, opts)
	}
	if len(opts.RowIDs) > 0 {
		return nil, fmt.Errorf("test %q: row selection needs a dataset run", res.Test.Name)
	}

	job.Dataset = nil
	job.CustomVariables = opts.Variables
	if job.CustomVariables == nil {
		job.CustomVariables = map[string]any{}
	}
	run, err := r.Execute(ctx, job)
	return []Result{{Run: run, Err: err}}, nil
}

func selectRows(d *model.Dataset, ids []string) ([]*model.DatasetRow, error) {
	if len(ids) == 0 {
		rows := make([]*model.DatasetRow, len(d.Rows))
		for i := range d.Rows {
			rows[i] = &d.Rows[i]
		}
		return rows, nil
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if d.Row(id) == nil {
			return nil, fmt.Errorf("dataset %q has no row %q", d.Name, id)
		}
		want[id] = true
	}
	var rows []*model.DatasetRow
	for i := range d.Rows {
		if want[d.Rows[i].ID] {
			rows = append(rows, &d.Rows[i])
		}
	}
	return rows, nil
}

// Summary counts the statuses of a batch.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
}

// Summarize counts results; unpersisted rows count as errored.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, res := range results {
		switch {
		case res.Run == nil || res.Err != nil:
			s.Errored++
		case res.Run.Status == model.StatusPassed:
			s.Passed++
		case res.Run.Status == model.StatusFailed:
			s.Failed++
		default:
			s.Errored++
		}
	}
	return s
}

// OK reports whether every run passed.
func (s Summary) OK() bool {
	return s.Failed == 0 && s.Errored == 0
}
