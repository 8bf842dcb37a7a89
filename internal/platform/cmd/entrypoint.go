package cmd

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/brightward/brightward/internal/platform/otel"
)

const defaultOTelShutdownTimeout = 5 * time.Second

// ServiceGovernance is the service identifier reported in startup telemetry.
const ServiceGovernance = "governance"

// RunWithTelemetry configures observability and executes a service run loop.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return fmt.Errorf("service name is required")
	}
	if run == nil {
		return fmt.Errorf("run function is required")
	}
	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultOTelShutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("%s otel shutdown: %v", service, err)
		}
	}()
	return run(ctx)
}
