package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "negotiator", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	// Disabled providers accept every call.
	_, finish := p.TrackOperation(context.Background(), "noop")
	finish(errors.New("ignored"))
	p.RecordProposal(context.Background(), "applied")
	p.RecordSettlement(context.Background())
	require.NoError(t, p.Shutdown(context.Background()))
}

func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string, match attribute.KeyValue) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				if match.Key == "" {
					total += dp.Value
					continue
				}
				if v, ok := dp.Attributes.Value(match.Key); ok && v.Emit() == match.Value.Emit() {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestTrackOperation_RecordsREDMetricsAndSpans(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	spans := tracetest.NewSpanRecorder()
	p, err := NewWithReader(nil, reader, spans)
	require.NoError(t, err)
	ctx := context.Background()

	_, finish := p.TrackOperation(ctx, "ledger.propose", attribute.String("negotiation.id", "n-1"))
	finish(nil)
	_, finish = p.TrackOperation(ctx, "ledger.propose")
	finish(errors.New("wrong turn"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	op := attribute.String("operation", "ledger.propose")
	assert.Equal(t, int64(2), sumValue(t, rm, "negotiator.requests.total", op))
	assert.Equal(t, int64(1), sumValue(t, rm, "negotiator.errors.total", op))

	ended := spans.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "ledger.propose", ended[0].Name())
	assert.Len(t, ended[1].Events(), 1) // recorded error
}

func TestNegotiationCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	p, err := NewWithReader(DefaultConfig(), reader, nil)
	require.NoError(t, err)
	ctx := context.Background()

	p.RecordProposal(ctx, "applied")
	p.RecordProposal(ctx, "applied")
	p.RecordProposal(ctx, "WRONG_TURN")
	p.RecordSettlement(ctx)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(2), sumValue(t, rm, "negotiator.proposals.total", attribute.String("outcome", "applied")))
	assert.Equal(t, int64(1), sumValue(t, rm, "negotiator.proposals.total", attribute.String("outcome", "WRONG_TURN")))
	assert.Equal(t, int64(1), sumValue(t, rm, "negotiator.settlements.total", attribute.KeyValue{}))
}
