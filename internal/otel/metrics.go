package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all Daybreak metric instruments.
type Metrics struct {
	TaskDuration     metric.Float64Histogram
	ModelDuration    metric.Float64Histogram
	ModelCostUSD     metric.Float64Counter
	ToolCallDuration metric.Float64Histogram
	ToolCallErrors   metric.Int64Counter
	QueueDepth       metric.Int64UpDownCounter
	ActionsExecuted  metric.Int64Counter
	ActionsDeferred  metric.Int64Counter
	BlocksPublished  metric.Int64Counter
	PublishFailures  metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TaskDuration, err = meter.Float64Histogram("daybreak.task.duration",
		metric.WithDescription("Agent task processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ModelDuration, err = meter.Float64Histogram("daybreak.llm.duration",
		metric.WithDescription("Model API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ModelCostUSD, err = meter.Float64Counter("daybreak.llm.cost_usd",
		metric.WithDescription("Cumulative model spend in USD"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallDuration, err = meter.Float64Histogram("daybreak.tool.duration",
		metric.WithDescription("Tool call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallErrors, err = meter.Int64Counter("daybreak.tool.errors",
		metric.WithDescription("Tool call error count"),
	)
	if err != nil {
		return nil, err
	}

	m.QueueDepth, err = meter.Int64UpDownCounter("daybreak.queue.depth",
		metric.WithDescription("Agent executor queue depth"),
	)
	if err != nil {
		return nil, err
	}

	m.ActionsExecuted, err = meter.Int64Counter("daybreak.actions.executed",
		metric.WithDescription("Auto-executed proposed actions"),
	)
	if err != nil {
		return nil, err
	}

	m.ActionsDeferred, err = meter.Int64Counter("daybreak.actions.deferred",
		metric.WithDescription("Proposed actions deferred to approval"),
	)
	if err != nil {
		return nil, err
	}

	m.BlocksPublished, err = meter.Int64Counter("daybreak.plan.blocks_published",
		metric.WithDescription("Theme blocks published to the calendar"),
	)
	if err != nil {
		return nil, err
	}

	m.PublishFailures, err = meter.Int64Counter("daybreak.plan.publish_failures",
		metric.WithDescription("Theme block publish failures"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
