package broker

import (
	"testing"

	"github.com/tjfontaine/mme-broker/internal/pkg/config"
)

func TestNew_WithConfig(t *testing.T) {
	cfg := config.Default()
	b, err := New(WithConfig(cfg), WithMemoryStorage())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if b.Handler() != nil {
		t.Error("Handler() before Start = non-nil")
	}
}
