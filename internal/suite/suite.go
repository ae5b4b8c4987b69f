// Package suite loads declarative suite files: the prompts, datasets and
// tests a project keeps under version control.
//
// A suite is a YAML (or JSON) document:
//
//	prompts:
//	  - name: Support greeter
//	    versions:
//	      - number: 1
//	        status: active
//	        system_prompt: "You are a {{ tone }} support agent."
//	        user_prompt: "{{ question }}"
//	        model_config: {provider: openai, model: gpt-4o-mini}
//	datasets:
//	  - name: faq
//	    rows:
//	      - row_data: {tone: friendly, question: "How do I reset my password?"}
//	tests:
//	  - name: faq-greeter
//	    prompt: support-greeter
//	    dataset: faq
//	    evaluators:
//	      - key: keyword
//	        config: {required_keywords: [password]}
package suite

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/timvw/prompt-tracker/internal/model"
)

// Suite is a loaded suite file.
type Suite struct {
	Prompts  []model.Prompt  `yaml:"prompts" json:"prompts"`
	Datasets []model.Dataset `yaml:"datasets" json:"datasets"`
	Tests    []model.Test    `yaml:"tests" json:"tests"`

	// Path is the file the suite was loaded from.
	Path string `yaml:"-" json:"-"`
}

// Load reads and normalizes the suite at path. Structural problems that
// prevent loading are returned as errors; semantic problems are reported by
// Validate.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading suite %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing suite %s: %w", path, err)
	}
	s.Path = path

	for i := range s.Datasets {
		d := &s.Datasets[i]
		if d.RowsFile == "" {
			continue
		}
		rowsPath := d.RowsFile
		if !filepath.IsAbs(rowsPath) {
			rowsPath = filepath.Join(filepath.Dir(path), rowsPath)
		}
		rows, err := loadRows(rowsPath)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", d.Name, err)
		}
		for j := range rows {
			if rows[j].Source == "" {
				rows[j].Source = "imported"
			}
		}
		d.Rows = append(d.Rows, rows...)
	}

	if err := s.normalize(); err != nil {
		return nil, err
	}
	return s, nil
}

// Parse decodes a suite document without resolving rows files.
func Parse(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if err := s.normalize(); err != nil {
		return nil, err
	}
	return &s, nil
}

// loadRows reads a rows file holding either a list of rows or {rows: [...]}.
func loadRows(path string) ([]model.DatasetRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rows file: %w", err)
	}
	var rows []model.DatasetRow
	if err := yaml.Unmarshal(data, &rows); err == nil {
		return rows, nil
	}
	var wrapped struct {
		Rows []model.DatasetRow `yaml:"rows"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parsing rows file %s: %w", path, err)
	}
	return wrapped.Rows, nil
}

// normalize fills derived fields. It is idempotent.
func (s *Suite) normalize() error {
	for i := range s.Prompts {
		p := &s.Prompts[i]
		if p.Slug == "" {
			p.Slug = model.Slugify(p.Name)
		}
		for j := range p.Versions {
			v := &p.Versions[j]
			if v.Number == 0 {
				v.Number = j + 1
			}
			if v.Status == "" {
				v.Status = model.VersionDraft
			}
			cfg, err := model.NormalizeModelConfig(v.RawModelConfig)
			if err != nil {
				return fmt.Errorf("prompt %q version %d: %w", p.Name, v.Number, err)
			}
			v.ModelConfig = cfg
		}
	}

	for i := range s.Datasets {
		d := &s.Datasets[i]
		if d.Type == "" {
			d.Type = model.DatasetSingleTurn
		}
		for j := range d.Rows {
			r := &d.Rows[j]
			if r.ID == "" {
				r.ID = fmt.Sprintf("row-%d", j+1)
			}
			if r.Source == "" {
				r.Source = "manual"
			}
			if r.RowData == nil {
				r.RowData = map[string]any{}
			}
		}
	}
	return nil
}

// Prompt returns the prompt whose slug or name is ref.
func (s *Suite) Prompt(ref string) *model.Prompt {
	for i := range s.Prompts {
		if s.Prompts[i].Slug == ref || s.Prompts[i].Name == ref {
			return &s.Prompts[i]
		}
	}
	return nil
}

// Dataset returns the named dataset.
func (s *Suite) Dataset(name string) *model.Dataset {
	for i := range s.Datasets {
		if s.Datasets[i].Name == name {
			return &s.Datasets[i]
		}
	}
	return nil
}

// Test returns the named test.
func (s *Suite) Test(name string) *model.Test {
	for i := range s.Tests {
		if s.Tests[i].Name == name {
			return &s.Tests[i]
		}
	}
	return nil
}

// Resolved is a test with its prompt version and dataset looked up.
type Resolved struct {
	Test    *model.Test
	Prompt  *model.Prompt
	Version *model.PromptVersion
	// Dataset is nil for tests driven by custom variables.
	Dataset *model.Dataset
}

// Mode returns the evaluator mode the test runs in by default. Single rows
// may still switch to conversational; see Modes.
func (r *Resolved) Mode() string {
	return model.RunMode(r.Dataset, nil)
}

// Modes returns the distinct modes the test's runs execute in, in order of
// first appearance across the dataset rows. A test without rows runs in its
// default mode.
func (r *Resolved) Modes() []string {
	if r.Dataset == nil || len(r.Dataset.Rows) == 0 {
		return []string{r.Mode()}
	}
	var modes []string
	seen := map[string]bool{}
	for i := range r.Dataset.Rows {
		m := model.RunMode(r.Dataset, &r.Dataset.Rows[i])
		if !seen[m] {
			seen[m] = true
			modes = append(modes, m)
		}
	}
	return modes
}

// Resolve looks up the prompt version and dataset of the named test.
func (s *Suite) Resolve(testName string) (*Resolved, error) {
	t := s.Test(testName)
	if t == nil {
		return nil, fmt.Errorf("unknown test %q", testName)
	}
	p := s.Prompt(t.Prompt)
	if p == nil {
		return nil, fmt.Errorf("test %q: unknown prompt %q", t.Name, t.Prompt)
	}
	v := p.Version(t.Version)
	if v == nil {
		return nil, fmt.Errorf("test %q: prompt %q has no version %d", t.Name, p.Slug, t.Version)
	}
	res := &Resolved{Test: t, Prompt: p, Version: v}
	if t.Dataset != "" {
		res.Dataset = s.Dataset(t.Dataset)
		if res.Dataset == nil {
			return nil, fmt.Errorf("test %q: unknown dataset %q", t.Name, t.Dataset)
		}
	}
	return res, nil
}
