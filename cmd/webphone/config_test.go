// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "webphone.yaml")
	data := `
session:
  ws_server: pbx.example.com
  ws_port: 8089
  ws_path: /ws
  server: pbx.example.com
  username: alice
  password: secret
  display_name: Alice
log:
  level: debug
  file:
    filename: /tmp/webphone.log
metrics:
  addr: 127.0.0.1:9100
history:
  path: /tmp/calls.db
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "pbx.example.com", cfg.Session.WSServer)
	assert.Equal(t, 8089, cfg.Session.WSPort)
	assert.Equal(t, "/ws", cfg.Session.WSPath)
	assert.Equal(t, "alice", cfg.Session.Username)
	assert.Equal(t, "Alice", cfg.Session.DisplayName)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/webphone.log", cfg.Log.File.Filename)
	// Defaults kept for unset keys
	assert.Equal(t, 100, cfg.Log.File.MaxSize)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, 100, cfg.History.Limit)
	require.NoError(t, cfg.Session.Validate())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("WEBPHONE_SESSION_WS_SERVER", "env.example.com")
	t.Setenv("WEBPHONE_SESSION_USERNAME", "bob")
	t.Setenv("WEBPHONE_SESSION_WS_PORT", "443")
	t.Setenv("WEBPHONE_HISTORY_LIMIT", "5")

	path := filepath.Join(t.TempDir(), "webphone.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  username: alice\n  server: pbx\n"), 0644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "env.example.com", cfg.Session.WSServer)
	assert.Equal(t, "bob", cfg.Session.Username)
	assert.Equal(t, "pbx", cfg.Session.Server)
	assert.Equal(t, 443, cfg.Session.WSPort)
	assert.Equal(t, 5, cfg.History.Limit)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
