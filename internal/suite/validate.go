package suite

import (
	"fmt"

	"github.com/timvw/prompt-tracker/internal/evaluators"
	"github.com/timvw/prompt-tracker/internal/model"
	"github.com/timvw/prompt-tracker/internal/render"
)

var (
	validVersionStatus = map[string]bool{
		model.VersionDraft:      true,
		model.VersionActive:     true,
		model.VersionDeprecated: true,
	}
	validDatasetTypes = map[string]bool{
		model.DatasetSingleTurn:     true,
		model.DatasetConversational: true,
	}
	validRowSources = map[string]bool{
		"manual":    true,
		"imported":  true,
		"generated": true,
	}
)

// Validate checks the suite against the evaluator registry and returns every
// problem found. An empty result means the suite is runnable.
func (s *Suite) Validate(registry *evaluators.Registry) []string {
	var errs []string
	addf := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	slugs := map[string]bool{}
	for _, p := range s.Prompts {
		if p.Name == "" {
			addf("prompt with slug %q has no name", p.Slug)
		}
		if p.Slug == "" {
			addf("prompt %q has an empty slug", p.Name)
		} else if slugs[p.Slug] {
			addf("duplicate prompt slug %q", p.Slug)
		}
		slugs[p.Slug] = true

		if len(p.Versions) == 0 {
			addf("prompt %q has no versions", p.Slug)
		}
		numbers := map[int]bool{}
		active := 0
		for _, v := range p.Versions {
			if numbers[v.Number] {
				addf("prompt %q: duplicate version number %d", p.Slug, v.Number)
			}
			numbers[v.Number] = true
			if !validVersionStatus[v.Status] {
				addf("prompt %q version %d: invalid status %q", p.Slug, v.Number, v.Status)
			}
			if v.Status == model.VersionActive {
				active++
			}
			if v.UserPrompt == "" && v.SystemPrompt == "" {
				addf("prompt %q version %d: no system or user prompt", p.Slug, v.Number)
			}
		}
		if active > 1 {
			addf("prompt %q has %d active versions", p.Slug, active)
		}
	}

	datasets := map[string]bool{}
	for _, d := range s.Datasets {
		if d.Name == "" {
			addf("dataset with no name")
		} else if datasets[d.Name] {
			addf("duplicate dataset name %q", d.Name)
		}
		datasets[d.Name] = true
		if !validDatasetTypes[d.Type] {
			addf("dataset %q: invalid type %q", d.Name, d.Type)
		}

		ids := map[string]bool{}
		for _, r := range d.Rows {
			if ids[r.ID] {
				addf("dataset %q: duplicate row id %q", d.Name, r.ID)
			}
			ids[r.ID] = true
			if !validRowSources[r.Source] {
				addf("dataset %q row %s: invalid source %q", d.Name, r.ID, r.Source)
			}
			if d.IsConversational() && r.InterlocutorPrompt() == "" {
				addf("dataset %q row %s: conversational rows need %s", d.Name, r.ID, model.RowKeyInterlocutorPrompt)
			}
		}
	}

	tests := map[string]bool{}
	for i := range s.Tests {
		t := &s.Tests[i]
		if t.Name == "" {
			addf("test with no name")
			continue
		}
		if tests[t.Name] {
			addf("duplicate test name %q", t.Name)
		}
		tests[t.Name] = true

		res, err := s.Resolve(t.Name)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		errs = append(errs, validateEvaluators(registry, res)...)
		if res.Dataset != nil {
			errs = append(errs, validateRows(res)...)
		}
	}
	return errs
}

func validateEvaluators(registry *evaluators.Registry, res *Resolved) []string {
	var errs []string
	modes := res.Modes()
	seen := map[string]bool{}
	for _, ec := range res.Test.Evaluators {
		if ec.Key == "" {
			errs = append(errs, fmt.Sprintf("test %q: evaluator with no key", res.Test.Name))
			continue
		}
		if seen[ec.Key] {
			errs = append(errs, fmt.Sprintf("test %q: evaluator %q configured twice", res.Test.Name, ec.Key))
		}
		seen[ec.Key] = true
		if registry == nil {
			continue
		}
		def, ok := registry.Lookup(ec.Key)
		if !ok {
			errs = append(errs, fmt.Sprintf("test %q: unknown evaluator %q", res.Test.Name, ec.Key))
			continue
		}
		if !ec.IsEnabled() {
			continue
		}
		for _, mode := range modes {
			if !def.Supports(mode) {
				errs = append(errs, fmt.Sprintf("test %q: evaluator %q does not support %s mode", res.Test.Name, ec.Key, mode))
			}
		}
	}
	return errs
}

// validateRows checks every dataset row against the prompt version's schema
// and templates.
func validateRows(res *Resolved) []string {
	var errs []string
	schema := res.Version.VariablesSchema
	for _, r := range res.Dataset.Rows {
		vars := render.ApplyDefaults(schema, r.RowData)
		for _, msg := range render.ValidateVariables(schema, vars) {
			errs = append(errs, fmt.Sprintf("test %q row %s: %s", res.Test.Name, r.ID, msg))
		}
		if _, err := render.Preview(res.Version, r.RowData, render.Options{}); err != nil {
			errs = append(errs, fmt.Sprintf("test %q row %s: %v", res.Test.Name, r.ID, err))
		}
	}
	return errs
}
