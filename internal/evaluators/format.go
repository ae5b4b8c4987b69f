package evaluators

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/timvw/prompt-tracker/internal/llm"
)

const (
	formatJSON     = "json"
	formatMarkdown = "markdown"
)

var markdownElements = map[string]bool{
	"heading":    true,
	"list":       true,
	"code_block": true,
	"link":       true,
	"table":      true,
}

type formatEvaluator struct {
	format   string
	keys     []string
	elements []string
	md       goldmark.Markdown
}

func newFormatEvaluator(cfg Config, _ Deps) (Evaluator, error) {
	e := &formatEvaluator{format: strings.ToLower(cfg.String("format", formatJSON))}
	var err error
	switch e.format {
	case formatJSON:
		if e.keys, err = cfg.Strings("required_keys"); err != nil {
			return nil, err
		}
	case formatMarkdown:
		if e.elements, err = cfg.Strings("required_elements"); err != nil {
			return nil, err
		}
		for _, el := range e.elements {
			if !markdownElements[el] {
				return nil, fmt.Errorf("unknown markdown element %q (supported: heading, list, code_block, link, table)", el)
			}
		}
		e.md = goldmark.New(goldmark.WithExtensions(extension.Table))
	default:
		return nil, fmt.Errorf("format must be %s or %s, got %q", formatJSON, formatMarkdown, e.format)
	}
	return e, nil
}

func (e *formatEvaluator) Key() string { return "format" }

func (e *formatEvaluator) Evaluate(_ context.Context, in Input) (Result, error) {
	if e.format == formatJSON {
		return e.evaluateJSON(in.Response), nil
	}
	return e.evaluateMarkdown(in.Response), nil
}

func (e *formatEvaluator) evaluateJSON(response string) Result {
	var doc any
	if err := json.Unmarshal([]byte(llm.StripMarkdownFences(response)), &doc); err != nil {
		return Result{Score: 0, Passed: false, Feedback: "Response is not valid JSON: " + err.Error()}
	}
	if len(e.keys) == 0 {
		return Result{Score: 100, Passed: true, Feedback: "Response is valid JSON"}
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return Result{Score: 0, Passed: false, Feedback: "Response is JSON but not an object", Metadata: map[string]any{"missing_keys": e.keys}}
	}
	missing := []string{}
	for _, k := range e.keys {
		if _, ok := obj[k]; !ok {
			missing = append(missing, k)
		}
	}
	res := Result{
		Score:    ratioScore(len(e.keys)-len(missing), len(e.keys)),
		Passed:   len(missing) == 0,
		Feedback: "Response is valid JSON with all required keys",
		Metadata: map[string]any{"missing_keys": missing},
	}
	if len(missing) > 0 {
		res.Feedback = "Response JSON is missing keys: " + strings.Join(missing, ", ")
	}
	return res
}

func (e *formatEvaluator) evaluateMarkdown(response string) Result {
	src := []byte(response)
	doc := e.md.Parser().Parse(text.NewReader(src))

	present := map[string]bool{}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindHeading:
			present["heading"] = true
		case ast.KindList:
			present["list"] = true
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			present["code_block"] = true
		case ast.KindLink, ast.KindAutoLink:
			present["link"] = true
		case east.KindTable:
			present["table"] = true
		}
		return ast.WalkContinue, nil
	})

	found := []string{}
	for el := range markdownElements {
		if present[el] {
			found = append(found, el)
		}
	}
	missing := []string{}
	for _, el := range e.elements {
		if !present[el] {
			missing = append(missing, el)
		}
	}

	res := Result{
		Score:    ratioScore(len(e.elements)-len(missing), len(e.elements)),
		Passed:   len(missing) == 0,
		Feedback: "Markdown contains all required elements",
		Metadata: map[string]any{"found_elements": sortedStrings(found), "missing_elements": missing},
	}
	if len(missing) > 0 {
		res.Feedback = "Markdown is missing elements: " + strings.Join(missing, ", ")
	}
	return res
}
