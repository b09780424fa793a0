package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

type nopBackend struct{}

func (nopBackend) RunStorage() RunStorage           { return nil }
func (nopBackend) Health(ctx context.Context) error { return nil }
func (nopBackend) Close() error                     { return nil }

func TestRegisterAndOpen(t *testing.T) {
	var got PluginConfig
	RegisterProvider("Archive-Test", func(cfg PluginConfig) (PluginPersistence, error) {
		got = cfg
		return nopBackend{}, nil
	})

	if !slices.Contains(ListProviders(), "archive-test") {
		t.Fatalf("expected archive-test in %v", ListProviders())
	}
	p, err := NewPersistence(ProviderConfig{Type: "ARCHIVE-test"}, PluginConfig{RunTTL: time.Hour})
	if err != nil || p == nil {
		t.Fatalf("NewPersistence = %v, %v", p, err)
	}
	if string(got.Config) != "{}" {
		t.Errorf("empty provider config should default to {}, got %q", got.Config)
	}
	if got.RunTTL != time.Hour {
		t.Errorf("RunTTL not forwarded: %v", got.RunTTL)
	}

	if _, err := NewPersistence(ProviderConfig{Type: "archive-test", Config: json.RawMessage(`{"dir":"/tmp"}`)}, PluginConfig{}); err != nil {
		t.Fatal(err)
	}
	if string(got.Config) != `{"dir":"/tmp"}` {
		t.Errorf("provider config not forwarded: %s", got.Config)
	}
}

func TestNewPersistenceErrors(t *testing.T) {
	RegisterProvider("failing-test", func(PluginConfig) (PluginPersistence, error) {
		return nil, errors.New("addr is required")
	})
	RegisterProvider("empty-test", func(PluginConfig) (PluginPersistence, error) {
		return nil, nil
	})

	tests := []struct {
		typ  string
		want string
	}{
		{"etcd", "available:"},
		{"failing-test", "failing-test: addr is required"},
		{"empty-test", "no backend"},
	}
	for _, tt := range tests {
		_, err := NewPersistence(ProviderConfig{Type: tt.typ}, PluginConfig{})
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("NewPersistence(%s) err = %v, want %q", tt.typ, err, tt.want)
		}
	}
}
