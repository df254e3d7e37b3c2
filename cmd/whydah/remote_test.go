package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrlandoBitencourt/whydah/internal/cache"
	"github.com/OrlandoBitencourt/whydah/internal/domain"
	"github.com/OrlandoBitencourt/whydah/internal/server"
)

type memCache struct {
	mu        sync.Mutex
	configs   domain.Snapshot
	refreshes int
}

func (m *memCache) Lookup(service string) (domain.ServiceConfig, uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[service]
	return cfg.Clone(), 1, ok
}

func (m *memCache) Services() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configs.Services()
}

func (m *memCache) UpdateConfig(service, setting, property string, value any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.configs[service][setting]; ok {
		s[property] = value
		return true
	}
	return false
}

func (m *memCache) RefreshConfigs(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
	return nil
}

func (m *memCache) Stats() cache.Stats { return cache.Stats{} }
func (m *memCache) Healthy() bool      { return true }

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		getFilter = ""
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func TestRemoteCommands(t *testing.T) {
	mem := &memCache{configs: domain.Snapshot{
		"service1": {
			"feature1": {"value": "true", "enabled": "true", "type": "flag"},
			"feature2": {"value": "10", "enabled": "false", "type": "int"},
		},
	}}
	srv := httptest.NewServer(server.New(mem).Handler())
	defer srv.Close()

	out, err := runCLI(t, "get", "--server", srv.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `["service1"]`, out)

	out, err = runCLI(t, "set", "service1", "feature1", "false", "--server", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Updated 'feature1' for 'service1'\n", out)

	out, err = runCLI(t, "set", "service1", "feature2", "type", "flag", "--server", srv.URL)
	require.NoError(t, err)

	out, err = runCLI(t, "get", "service1", "--filter", `type == "flag"`, "--server", srv.URL)
	require.NoError(t, err)

	var cfg map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &cfg), out)
	assert.Len(t, cfg, 2)
	assert.Equal(t, "false", cfg["feature1"]["value"])

	out, err = runCLI(t, "refresh", "--server", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Configurations refreshed\n", out)

	_, err = runCLI(t, "get", "unknownsvc", "--server", srv.URL)
	assert.Error(t, err)
}
