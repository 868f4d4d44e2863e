package main

import (
	"context"

	"github.com/oviney/economist-agents-sub001/internal/layout"
	"github.com/oviney/economist-agents-sub001/internal/llm"
	"github.com/oviney/economist-agents-sub001/internal/metrics"
	"github.com/oviney/economist-agents-sub001/internal/pipeline"
	"github.com/oviney/economist-agents-sub001/internal/render"
)

func buildLLMClient(ctx context.Context, offline bool) (llm.Client, error) {
	if offline {
		return llm.NewOffline(""), nil
	}
	return llm.NewFromConfig(ctx, cfg.LLM)
}

func thresholds() layout.Thresholds {
	return layout.Thresholds{
		LabelDataMinOffset:   cfg.Layout.LabelDataMinOffset,
		LabelMinSeparation:   cfg.Layout.LabelMinSeparation,
		CriticalOverlapRatio: cfg.Layout.CriticalOverlapRatio,
		EdgeSafetyMargin:     cfg.Layout.EdgeSafetyMargin,
	}
}

// buildRunner assembles the full chart pipeline from config, with flag
// overrides for the retry budget and output directory.
func buildRunner(ctx context.Context, offline bool, attempts int, outDir string) (*pipeline.Runner, *metrics.Store, error) {
	client, err := buildLLMClient(ctx, offline)
	if err != nil {
		return nil, nil, err
	}

	if outDir == "" {
		outDir = cfg.Render.OutputDir
	}
	if attempts <= 0 {
		attempts = cfg.Retry.MaxAttempts
	}

	backend := render.NewBackend(render.Config{
		RunnerPath:   cfg.Render.RunnerPath,
		OutputDir:    outDir,
		Timeout:      cfg.Render.GetTimeout(),
		KeepWorkdirs: cfg.Render.KeepWorkdirs,
	})

	store, err := metrics.Open(metricsPath())
	if err != nil {
		return nil, nil, err
	}

	runner := pipeline.NewRunner(client, backend, layout.NewValidator(thresholds()), store, pipeline.Config{
		Concurrency: cfg.Pipeline.Concurrency,
		MaxAttempts: attempts,
		OutputDir:   outDir,
	})
	return runner, store, nil
}
