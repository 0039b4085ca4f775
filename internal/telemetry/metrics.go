package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/3T-LVTN/model/internal/telemetry"

// ModelMetrics records prediction and training activity.
type ModelMetrics struct {
	predictions       metric.Int64Counter
	predictionLatency metric.Float64Histogram
	trainings         metric.Int64Counter
	trainingDuration  metric.Float64Histogram
	weatherFetches    metric.Int64Counter
}

// NewModelMetrics creates the instruments on the global meter provider.
func NewModelMetrics() (*ModelMetrics, error) {
	meter := otel.Meter(meterName)

	predictions, err := meter.Int64Counter("model.predictions",
		metric.WithDescription("Predictions served, by outcome"),
		metric.WithUnit("{prediction}"),
	)
	if err != nil {
		return nil, err
	}
	predictionLatency, err := meter.Float64Histogram("model.prediction.duration",
		metric.WithDescription("Time to serve one location-day prediction"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	trainings, err := meter.Int64Counter("model.trainings",
		metric.WithDescription("Completed training runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}
	trainingDuration, err := meter.Float64Histogram("model.training.duration",
		metric.WithDescription("Training run duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	weatherFetches, err := meter.Int64Counter("weather.fetches",
		metric.WithDescription("Weather observations fetched by the crawl job, by outcome"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	return &ModelMetrics{
		predictions:       predictions,
		predictionLatency: predictionLatency,
		trainings:         trainings,
		trainingDuration:  trainingDuration,
		weatherFetches:    weatherFetches,
	}, nil
}

// RecordPrediction counts one prediction. outcome is cached, computed or failed.
func (m *ModelMetrics) RecordPrediction(ctx context.Context, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.predictions.Add(ctx, 1, attrs)
	m.predictionLatency.Record(ctx, took.Seconds(), attrs)
}

// RecordTraining records a finished training run.
func (m *ModelMetrics) RecordTraining(ctx context.Context, timeWindowID int64, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Int64("time_window_id", timeWindowID))
	m.trainings.Add(ctx, 1, attrs)
	m.trainingDuration.Record(ctx, took.Seconds(), attrs)
}

// RecordWeatherFetch counts a crawl fetch. outcome is stored or failed.
func (m *ModelMetrics) RecordWeatherFetch(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.weatherFetches.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
