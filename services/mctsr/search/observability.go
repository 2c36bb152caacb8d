// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "mctsr.search"

// Observer emits OpenTelemetry spans and metrics for search runs.
//
// Spans and instruments come from the global providers, so they become
// no-ops unless telemetry has been initialized.
//
// Thread Safety: Safe for concurrent use.
type Observer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool

	rollouts        metric.Int64Counter
	rolloutDuration metric.Float64Histogram
	parseRetries    metric.Int64Counter
	nodeQ           metric.Float64Histogram
	runs            metric.Int64Counter
}

// NewObserver creates an observer. When enabled is false spans are no-ops
// but metrics are still recorded.
func NewObserver(logger *slog.Logger, enabled bool) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Observer{
		tracer:  otel.Tracer(instrumentationName),
		logger:  logger,
		enabled: enabled,
	}
	if err := o.initInstruments(otel.Meter(instrumentationName)); err != nil {
		logger.Warn("Falling back to no-op search metrics", slog.String("error", err.Error()))
		_ = o.initInstruments(metricnoop.NewMeterProvider().Meter(instrumentationName))
	}
	return o
}

func (o *Observer) initInstruments(meter metric.Meter) error {
	var err error
	if o.rollouts, err = meter.Int64Counter("mctsr.rollouts",
		metric.WithDescription("Completed rollouts by outcome"),
		metric.WithUnit("{rollout}")); err != nil {
		return err
	}
	if o.rolloutDuration, err = meter.Float64Histogram("mctsr.rollout.duration",
		metric.WithDescription("Wall time of one rollout"),
		metric.WithUnit("s")); err != nil {
		return err
	}
	if o.parseRetries, err = meter.Int64Counter("mctsr.reward.parse_failures",
		metric.WithDescription("Reward replies that failed to parse"),
		metric.WithUnit("{reply}")); err != nil {
		return err
	}
	if o.nodeQ, err = meter.Float64Histogram("mctsr.node.q",
		metric.WithDescription("Q of newly evaluated nodes"),
		metric.WithUnit("1")); err != nil {
		return err
	}
	if o.runs, err = meter.Int64Counter("mctsr.runs",
		metric.WithDescription("Search runs by outcome"),
		metric.WithUnit("{run}")); err != nil {
		return err
	}
	return nil
}

// StartRun starts the span covering a whole search run.
func (o *Observer) StartRun(ctx context.Context, runID, problem string, cfg Config) (context.Context, trace.Span) {
	o.logger.InfoContext(ctx, "Search run started",
		slog.String("run_id", runID),
		slog.String("problem", truncate(problem, 100)),
		slog.Int("max_rollouts", cfg.MaxRollouts),
		slog.String("policy", cfg.SelectionPolicy.String()),
	)
	if !o.enabled {
		return ctx, noop.Span{}
	}
	return o.tracer.Start(ctx, "mctsr.run",
		trace.WithAttributes(
			attribute.String("mctsr.run_id", runID),
			attribute.String("mctsr.problem", truncate(problem, 100)),
			attribute.Int("mctsr.max_rollouts", cfg.MaxRollouts),
			attribute.Int("mctsr.max_children", cfg.MaxChildren),
			attribute.Float64("mctsr.exploration_constant", cfg.ExplorationConstant),
			attribute.String("mctsr.policy", cfg.SelectionPolicy.String()),
			attribute.Int("mctsr.reward_samples", cfg.NumRewardSamples),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndRun completes the run span and records the run outcome.
func (o *Observer) EndRun(ctx context.Context, span trace.Span, tree *Tree, rollouts int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	o.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	best := tree.Best()
	span.SetAttributes(
		attribute.Int("mctsr.result.rollouts", rollouts),
		attribute.Int64("mctsr.result.nodes", tree.Size()),
		attribute.Int("mctsr.result.max_depth", tree.MaxDepth()),
		attribute.String("mctsr.result.best_id", best.ID),
		attribute.Float64("mctsr.result.best_q", best.Q()),
	)
	span.End()

	attrs := []any{
		slog.Int("rollouts", rollouts),
		slog.Int64("nodes", tree.Size()),
		slog.String("best_id", best.ID),
		slog.Float64("best_q", best.Q()),
	}
	if err != nil {
		o.logger.WarnContext(ctx, "Search run failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	o.logger.InfoContext(ctx, "Search run completed", attrs...)
}

// StartRollout starts the span for one rollout.
func (o *Observer) StartRollout(ctx context.Context, rollout int) (context.Context, trace.Span) {
	if !o.enabled {
		return ctx, noop.Span{}
	}
	return o.tracer.Start(ctx, "mctsr.rollout",
		trace.WithAttributes(attribute.Int("mctsr.rollout", rollout)))
}

// EndRollout completes the rollout span and records its metrics.
func (o *Observer) EndRollout(ctx context.Context, span trace.Span, child *Node, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if child != nil {
		span.SetAttributes(
			attribute.String("mctsr.child_id", child.ID),
			attribute.Float64("mctsr.child_q", child.q),
			attribute.Int("mctsr.child_depth", child.Depth),
		)
		o.nodeQ.Record(ctx, child.q)
	}
	span.End()

	o.rollouts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	o.rolloutDuration.Record(ctx, elapsed.Seconds())
}

// StartPhase starts a child span for one phase of a rollout:
// "select", "refine", "evaluate" or "backpropagate".
func (o *Observer) StartPhase(ctx context.Context, phase string, node *Node) (context.Context, trace.Span) {
	if node != nil {
		o.logger.DebugContext(ctx, "Search phase",
			slog.String("phase", phase),
			slog.String("node_id", node.ID))
	}
	if !o.enabled {
		return ctx, noop.Span{}
	}
	attrs := []attribute.KeyValue{attribute.String("mctsr.phase", phase)}
	if node != nil {
		attrs = append(attrs, attribute.String("mctsr.node_id", node.ID))
	}
	return o.tracer.Start(ctx, "mctsr."+phase, trace.WithAttributes(attrs...))
}

// EndPhase completes a phase span.
func (o *Observer) EndPhase(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ParseFailure counts a reward reply that did not parse.
func (o *Observer) ParseFailure(ctx context.Context) {
	o.parseRetries.Add(ctx, 1)
}
