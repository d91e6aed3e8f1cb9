package telemetry

import (
	"context"
	"testing"

	"github.com/redstone-dev/redstone/internal/config"
)

func TestInitDisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TelemetryConfig{ServiceName: "redstone"}, "test")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
