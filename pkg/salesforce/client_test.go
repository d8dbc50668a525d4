package salesforce

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// mockClient implements Client for testing.
type mockClient struct {
	queryFn           func(ctx context.Context, soql string, out any) error
	updateOneFn       func(ctx context.Context, sObjectName string, id string, fields map[string]any) error
	describeSObjectFn func(ctx context.Context, name string) (*SObjectDescription, error)
}

func (m *mockClient) Query(ctx context.Context, soql string, out any) error {
	if m.queryFn != nil {
		return m.queryFn(ctx, soql, out)
	}
	return nil
}

func (m *mockClient) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	if m.updateOneFn != nil {
		return m.updateOneFn(ctx, sObjectName, id, fields)
	}
	return nil
}

func (m *mockClient) DescribeSObject(ctx context.Context, name string) (*SObjectDescription, error) {
	if m.describeSObjectFn != nil {
		return m.describeSObjectFn(ctx, name)
	}
	return &SObjectDescription{Name: name, Label: name}, nil
}

var (
	_ Client = (*mockClient)(nil)
	_ Client = (*sfClient)(nil)
)

func TestWithRateLimit(t *testing.T) {
	tests := []struct {
		name      string
		opts      []ClientOption
		wantLimit rate.Limit
		wantBurst int
	}{
		{name: "per second", opts: []ClientOption{WithRateLimit(20)}, wantLimit: 20, wantBurst: 20},
		{name: "fractional", opts: []ClientOption{WithRateLimit(0.5)}, wantLimit: 0.5, wantBurst: 1},
		{name: "zero disables", opts: []ClientOption{WithRateLimit(0)}},
		{name: "negative disables", opts: []ClientOption{WithRateLimit(-5)}},
		{name: "unset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(nil, tt.opts...).(*sfClient)
			if tt.wantBurst == 0 {
				assert.Nil(t, c.limiter)
				assert.NoError(t, c.wait(context.Background()))
				return
			}
			require.NotNil(t, c.limiter)
			assert.Equal(t, tt.wantLimit, c.limiter.Limit())
			assert.Equal(t, tt.wantBurst, c.limiter.Burst())
		})
	}
}

func TestWait_CancelledContext(t *testing.T) {
	c := &sfClient{limiter: rate.NewLimiter(rate.Every(time.Hour), 0)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, c.wait(ctx))
}
