package telemetry

import (
	"context"
	"testing"
)

func TestInitStdout(t *testing.T) {
	shutdown, err := InitWithConfig("test-service", "v0.0.1", Config{Exporter: "stdout"})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if shutdown == nil {
		t.Fatal("Shutdown function should not be nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInitNone(t *testing.T) {
	shutdown, err := InitWithConfig("test-service", "v0.0.1", Config{Exporter: "none"})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInitErrors(t *testing.T) {
	if _, err := InitWithConfig("svc", "v0", Config{Exporter: "otlp"}); err == nil {
		t.Error("expected error when otlp endpoint is missing")
	}
	if _, err := InitWithConfig("svc", "v0", Config{Exporter: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown exporter")
	}
}
