// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")

	require.NoError(t, Save(path, doc{Version: 1, Name: "a"}))

	var loaded doc
	require.NoError(t, Load(path, &loaded))
	assert.Equal(t, doc{Version: 1, Name: "a"}, loaded)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	var loaded doc
	require.NoError(t, Load(path, &loaded))
	assert.Equal(t, doc{}, loaded)
}

func TestSave_RotatesPriorVersionToBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")

	counter := 0
	orig := backupTimestamp
	defer func() { backupTimestamp = orig }()
	backupTimestamp = func() string {
		counter++
		return string(rune('a' + counter))
	}

	require.NoError(t, Save(path, doc{Version: 1}))
	require.NoError(t, Save(path, doc{Version: 2}))

	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "first save has nothing to back up; second backs up version 1")

	var loaded doc
	require.NoError(t, Load(path, &loaded))
	assert.Equal(t, 2, loaded.Version)
}

func TestSave_PrunesOldBackupsBeyondMax(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")

	counter := 0
	orig := backupTimestamp
	defer func() { backupTimestamp = orig }()
	backupTimestamp = func() string {
		counter++
		return string(rune('a' + counter))
	}

	for i := 0; i < MaxBackups+3; i++ {
		require.NoError(t, Save(path, doc{Version: i}))
	}

	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	assert.Len(t, entries, MaxBackups)
}

func TestLoad_EmptyFileLeavesZeroValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	var loaded doc
	require.NoError(t, Load(path, &loaded))
	assert.Equal(t, doc{}, loaded)
}
