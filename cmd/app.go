package cmd

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/timvw/prompt-tracker/internal/config"
	"github.com/timvw/prompt-tracker/internal/evaluators"
	"github.com/timvw/prompt-tracker/internal/llm"
	"github.com/timvw/prompt-tracker/internal/logger"
	"github.com/timvw/prompt-tracker/internal/model"
	telem "github.com/timvw/prompt-tracker/internal/otel"
	"github.com/timvw/prompt-tracker/internal/runner"
	"github.com/timvw/prompt-tracker/internal/store"
	"github.com/timvw/prompt-tracker/internal/suite"
)

// Canned replies of the mock judge and interlocutor.
const (
	mockJudgeReply        = `{"overall_score": 100, "feedback": "mock judge"}`
	mockInterlocutorReply = "Thanks, that answers my question. [END_CONVERSATION]"
)

// app holds the collaborators a command needs. Fields a command did not ask
// for are nil.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	tel      *telem.Telemetry
	suite    *suite.Suite
	store    *store.Store
	registry *evaluators.Registry
	runner   *runner.Runner
}

type appOptions struct {
	suite  bool
	store  bool
	runner bool
}

// loadConfig loads configuration and applies the global flags over it.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flagConfig != "" {
		cfg, err = config.LoadFile(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if flagSuite != "" {
		cfg.Suite = flagSuite
	}
	if flagDatabase != "" {
		cfg.Database = flagDatabase
	}
	if flagLogMode != "" {
		cfg.LogMode = flagLogMode
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagMock {
		cfg.MockLLM = true
	}
	return cfg, nil
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}
	if cfg.ConfigFile != "" {
		log.Debug("config loaded", "file", cfg.ConfigFile)
	}

	if opts.runner {
		opts.suite, opts.store = true, true
	}

	if opts.suite {
		s, err := suite.Load(cfg.Suite)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.suite = s
	}

	a.registry = evaluators.DefaultRegistry(evaluators.Deps{Judge: a.roleClient(cfg.Judge, "judge", mockJudgeReply)})

	if opts.store {
		st, err := store.Open(cfg.Database)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.store = st
	}

	if opts.runner {
		a.initTelemetry(ctx)

		r := &runner.Runner{
			Registry:     a.registry,
			Clients:      a.client,
			Store:        a.store,
			Interlocutor: a.roleClient(cfg.Interlocutor, "interlocutor", mockInterlocutorReply),
			Logger:       log,
			Timeout:      cfg.RequestTimeoutDuration,
		}
		if a.tel != nil {
			r.Metrics = a.tel.Metrics
			r.Tracer = a.tel.Tracer
		}
		if cfg.RateLimit > 0 {
			r.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
		}
		a.runner = r
	}
	return a, nil
}

// initTelemetry installs the OTLP exporters. Failing to do so is logged and
// leaves the process without telemetry.
func (a *app) initTelemetry(ctx context.Context) {
	telem.Version = Version
	tel, err := telem.Init(ctx, telem.Config{
		Endpoint: a.cfg.OTELEndpoint,
		Headers:  a.cfg.OTELHeaders,
	})
	if err != nil {
		a.log.Warn("otel init failed", "error", err)
		return
	}
	if tel.Enabled() {
		a.log.Info("telemetry enabled", "endpoint", a.cfg.OTELEndpoint)
	}
	a.tel = tel
}

// client builds the provider client of a prompt version.
func (a *app) client(mc model.ModelConfig) (llm.Client, error) {
	cc, err := a.cfg.ClientConfig(mc)
	if err != nil {
		return nil, err
	}
	return llm.New(cc)
}

// roleClient builds the judge or interlocutor client. A role that cannot be
// configured is logged and left nil; evaluators needing it then fail.
func (a *app) roleClient(ref config.ModelRef, role, mockReply string) llm.Client {
	if a.cfg.MockLLM {
		return llm.NewMockClient("mock-"+role, []string{mockReply})
	}
	cc, err := a.cfg.RoleClientConfig(ref)
	if err == nil {
		var c llm.Client
		if c, err = llm.New(cc); err == nil {
			return c
		}
	}
	a.log.Debug("role client unavailable", "role", role, "error", err)
	return nil
}

func (a *app) close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("closing store failed", "error", err)
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.log.Warn("otel shutdown failed", "error", err)
	}
	a.log.Sync()
}

// parseVars parses repeated key=value flags. Values are strings.
func parseVars(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid variable %q (want key=value)", p)
		}
		vars[k] = v
	}
	return vars, nil
}
