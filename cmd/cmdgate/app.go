package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dhamidi/cmdgate"
	"github.com/dhamidi/cmdgate/analysis"
	"github.com/dhamidi/cmdgate/config"
	"github.com/dhamidi/cmdgate/history"
	"github.com/dhamidi/cmdgate/workspace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// app is everything a subcommand may need, wired from the configuration.
type app struct {
	cfg        *config.Config
	log        *logrus.Entry
	registry   *cmdgate.Registry
	workspace  *workspace.Workspace
	journal    *history.Journal
	store      *analysis.Store
	metrics    *prometheus.Registry
	generator  cmdgate.ContentGenerator // nil when no model is configured
	dispatcher *cmdgate.Dispatcher
}

var errNoModel = errors.New("no model configured: set model.api_key (GEMINI_API_KEY) or model.project (GOOGLE_CLOUD_PROJECT)")

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:     cfg,
		log:     logrus.WithField("component", "cmdgate"),
		metrics: prometheus.NewRegistry(),
	}

	var err error
	if cfg.Catalogue.Path != "" {
		a.registry, err = cmdgate.LoadFile(cfg.Catalogue.Path)
	} else {
		a.registry, err = cmdgate.Default()
	}
	if err != nil {
		return nil, err
	}

	if a.workspace, err = workspace.Open(cfg.Workspace.Dir); err != nil {
		return nil, err
	}
	if a.journal, err = history.Open(cfg.Journal.Path); err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if a.store, err = analysis.OpenStore(cfg.Analysis.DBPath); err != nil {
		a.journal.Close()
		return nil, fmt.Errorf("opening analysis store: %w", err)
	}

	if client, err := newGenaiClient(ctx, cfg.Model); err != nil {
		a.log.WithError(err).Debug("model unavailable")
	} else {
		a.generator = client.Models
	}

	var model analysis.Model = unavailableModel{}
	if a.generator != nil {
		model = &analysis.GeminiModel{Generator: a.generator, Name: cfg.Model.Name}
	}
	analyzer := analysis.New(a.workspace.Fs(), model,
		analysis.WithStore(a.store),
		analysis.WithChunkSize(cfg.Analysis.ChunkSize),
		analysis.WithLogger(a.log.WithField("component", "analysis")),
	)

	natives := analyzer.Register(a.workspace.Register(cmdgate.NewNatives()))

	a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts := []cmdgate.Option{
		cmdgate.WithWorkDir(cfg.Workspace.Dir),
		cmdgate.WithTimeout(cfg.Dispatch.Timeout),
		cmdgate.WithMaxConcurrent(cfg.Dispatch.MaxConcurrent),
		cmdgate.WithRecorder(a.journal),
		cmdgate.WithMetrics(cmdgate.NewMetrics(a.metrics)),
		cmdgate.WithLogger(a.log.WithField("component", "dispatch")),
	}
	if cfg.Dispatch.StrictExecutables {
		opts = append(opts, cmdgate.WithStrictExecutables())
	}
	if a.dispatcher, err = cmdgate.NewDispatcher(a.registry, natives, opts...); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// agent returns a chat agent, or errNoModel.
func (a *app) agent(history []*genai.Content) (*cmdgate.Agent, error) {
	if a.generator == nil {
		return nil, errNoModel
	}
	return cmdgate.NewAgent(a.generator, a.dispatcher,
		cmdgate.WithModel(a.cfg.Model.Name),
		cmdgate.WithHistory(history),
		cmdgate.WithAgentLogger(a.log.WithField("component", "agent")),
	), nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.journal != nil {
		a.journal.Close()
	}
}

func newGenaiClient(ctx context.Context, model config.ModelConfig) (*genai.Client, error) {
	clientConfig := &genai.ClientConfig{}
	switch model.Backend {
	case config.BackendVertex:
		if model.Project == "" {
			return nil, errNoModel
		}
		clientConfig.Backend = genai.BackendVertexAI
		clientConfig.Project = model.Project
		clientConfig.Location = model.Location
	default:
		if model.APIKey == "" {
			return nil, errNoModel
		}
		clientConfig.Backend = genai.BackendGeminiAPI
		clientConfig.APIKey = model.APIKey
	}
	return genai.NewClient(ctx, clientConfig)
}

type unavailableModel struct{}

func (unavailableModel) Analyze(context.Context, string) (string, error) {
	return "", errNoModel
}
