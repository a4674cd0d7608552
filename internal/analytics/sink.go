package analytics

import (
	"context"
	"fmt"

	"github.com/hoodly/hoodlysync/internal/models"
	"github.com/hoodly/hoodlysync/internal/remote"
)

// GatewaySink persists events into the analytics_events table through the
// remote gateway.
type GatewaySink struct {
	gateway remote.Gateway
}

// NewGatewaySink constructs a sink writing through the given gateway.
func NewGatewaySink(gateway remote.Gateway) *GatewaySink {
	return &GatewaySink{gateway: gateway}
}

// Deliver inserts one event. Failures bubble up so the tracker can requeue.
func (s *GatewaySink) Deliver(ctx context.Context, event models.AnalyticsEvent) error {
	if err := s.gateway.Insert(ctx, "analytics_events", event, nil); err != nil {
		return fmt.Errorf("insert analytics event: %w", err)
	}
	return nil
}

var _ Sink = (*GatewaySink)(nil)
