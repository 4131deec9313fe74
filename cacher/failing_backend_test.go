package cacher

import (
	"context"
	"errors"
	"time"

	"github.com/agentuity/go-cacher/backend"
	"github.com/agentuity/go-cacher/config"
)

var errBackendDown = errors.New("backend unavailable")

// failingBackend simulates an unreachable store for failure-policy tests.
type failingBackend struct{}

var _ backend.Backend = failingBackend{}

func (failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errBackendDown
}

func (failingBackend) GetWithTTL(context.Context, string) (time.Duration, []byte, bool, error) {
	return 0, nil, false, errBackendDown
}

func (failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errBackendDown
}

func (failingBackend) RefreshTTL(context.Context, string, time.Duration) error {
	return errBackendDown
}

func (failingBackend) Delete(context.Context, string, string) error {
	return errBackendDown
}

func (failingBackend) Clear(context.Context, string) error {
	return errBackendDown
}

func (failingBackend) Close(context.Context) error { return nil }

func newFailingConfig() config.Config {
	cfg := config.Default()
	cfg.AppSpace = "app"
	return cfg
}
