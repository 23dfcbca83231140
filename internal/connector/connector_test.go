package connector

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/wiseflow-dev/wiseflow/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSafeConfigExcludesSecrets(t *testing.T) {
	cfg := map[string]any{
		"base_url": "https://example.com",
		"api_key":  "sk-super-secret",
		"token":    "tok",
		"password": "hunter2",
		"secret":   "s3cr3t",
		"unknown":  "dropped-not-whitelisted",
	}
	out := SafeConfig(cfg, nil)
	if _, ok := out["api_key"]; ok {
		t.Fatalf("expected api_key to be filtered out")
	}
	if _, ok := out["unknown"]; ok {
		t.Fatalf("expected non-whitelisted key to be filtered out")
	}
	if out["base_url"] != "https://example.com" {
		t.Fatalf("expected base_url to survive filtering")
	}
}

func TestSafeConfigHonorsExtraWhitelist(t *testing.T) {
	cfg := map[string]any{"owner": "octocat"}
	out := SafeConfig(cfg, []string{"owner"})
	if out["owner"] != "octocat" {
		t.Fatalf("expected connector-declared extra key to survive")
	}
}

func TestCollectWithRetrySucceedsEventually(t *testing.T) {
	b := NewBase("test", "web", BaseConfig{Enabled: true})
	attempts := 0
	items, err := b.CollectWithRetry(context.Background(), testLogger(), 3, time.Millisecond, nil,
		func(ctx context.Context, params map[string]any) ([]*types.DataItem, error) {
			attempts++
			if attempts < 3 {
				return nil, errTransient
			}
			item, _ := types.NewDataItem("s1", "hello")
			return []*types.DataItem{item}, nil
		})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if b.Status().ErrorCount != 2 {
		t.Fatalf("expected 2 recorded errors before success, got %d", b.Status().ErrorCount)
	}
}

func TestCollectWithRetryExhausted(t *testing.T) {
	b := NewBase("test", "web", BaseConfig{Enabled: true})
	_, err := b.CollectWithRetry(context.Background(), testLogger(), 2, time.Millisecond, nil,
		func(ctx context.Context, params map[string]any) ([]*types.DataItem, error) {
			return nil, errTransient
		})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if b.Status().ErrorCount != 3 {
		t.Fatalf("expected 3 recorded errors (1 initial + 2 retries), got %d", b.Status().ErrorCount)
	}
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry(testLogger())
	c := &stubConnector{name: "dup"}
	if err := r.Register(c); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(c); err == nil {
		t.Fatalf("expected error registering duplicate name")
	}
}

type errString string

func (e errString) Error() string { return string(e) }

const errTransient = errString("transient failure")

type stubConnector struct{ name string }

func (s *stubConnector) Name() string { return s.name }
func (s *stubConnector) Type() string { return "stub" }
func (s *stubConnector) Initialize(ctx context.Context) error { return nil }
func (s *stubConnector) Shutdown(ctx context.Context) error   { return nil }
func (s *stubConnector) Collect(ctx context.Context, params map[string]any) ([]*types.DataItem, error) {
	return nil, nil
}
func (s *stubConnector) CollectAsync(ctx context.Context, params map[string]any) ([]*types.DataItem, error) {
	return nil, nil
}
func (s *stubConnector) Status() Status { return Status{Name: s.name} }
