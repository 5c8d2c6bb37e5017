package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkModule(t *testing.T, dir, name string, version string, blocking bool) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"), 0o755))
	if version != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".version"), []byte(version), 0o644))
	}
	if blocking {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".blocking"), nil, 0o644))
	}
}

func TestInternalShadowsCustom(t *testing.T) {
	root := t.TempDir()
	mkModule(t, filepath.Join(root, "internals"), "modulemng.py", "2.1", false)
	mkModule(t, filepath.Join(root, "usermodules"), "modulemng.py", "9.9", false)

	reg := New(root)
	m := reg.Resolve("modulemng")
	require.NotNil(t, m)
	assert.Equal(t, TierInternal, m.Tier)
	assert.Equal(t, 2.1, m.Version)
}

func TestPluginIsUpgradableInternalIsNot(t *testing.T) {
	root := t.TempDir()
	mkModule(t, filepath.Join(root, "internals"), "restart.py", "1", false)
	mkModule(t, filepath.Join(root, "plugins"), "updateSoftware.py", "3", false)

	reg := New(root)
	internalMod := reg.Resolve("restart")
	require.NotNil(t, internalMod)
	assert.False(t, internalMod.Upgradable)

	pluginMod := reg.Resolve("updateSoftware")
	require.NotNil(t, pluginMod)
	assert.True(t, pluginMod.Upgradable)
}

func TestBlockingSentinelIsDetected(t *testing.T) {
	root := t.TempDir()
	mkModule(t, filepath.Join(root, "plugins"), "updateModule.py", "1", true)

	reg := New(root)
	m := reg.Resolve("updateModule")
	require.NotNil(t, m)
	assert.True(t, m.Blocking)
}

func TestMissingVersionDefaultsToZero(t *testing.T) {
	root := t.TempDir()
	mkModule(t, filepath.Join(root, "usermodules"), "probe.sh", "", false)

	reg := New(root)
	m := reg.Resolve("probe.sh")
	require.NotNil(t, m)
	assert.Equal(t, float64(0), m.Version)
}

func TestUnknownNameResolvesToNilNotError(t *testing.T) {
	reg := New(t.TempDir())
	assert.Nil(t, reg.Resolve("doesNotExist"))
}

func TestCustomModuleAliasIsFileNameVerbatim(t *testing.T) {
	root := t.TempDir()
	mkModule(t, filepath.Join(root, "usermodules"), "mytool.sh", "", false)

	reg := New(root)
	mods := reg.Enumerate()
	require.Len(t, mods[TierCustom], 1)
	assert.Equal(t, "mytool.sh", mods[TierCustom][0].Alias)
}

func TestEnumerateListsPluginTierModule(t *testing.T) {
	root := t.TempDir()
	mkModule(t, filepath.Join(root, "plugins"), "osinfo.py", "1", false)

	reg := New(root)
	mods := reg.Enumerate()
	require.Len(t, mods[TierPlugin], 1)
}

func TestInstallWritesFileAndSentinels(t *testing.T) {
	root := t.TempDir()
	reg := New(root)

	require.NoError(t, reg.Install(TierPlugin, "newtool.py", strings.NewReader("#!/usr/bin/env python\n"), 4.2, true))

	m := reg.Resolve("newtool")
	require.NotNil(t, m)
	assert.Equal(t, 4.2, m.Version)
	assert.True(t, m.Blocking)
	assert.True(t, m.Upgradable)
}

func TestRemoveDeletesFileAndSentinels(t *testing.T) {
	root := t.TempDir()
	mkModule(t, filepath.Join(root, "usermodules"), "scratch.sh", "1", true)

	reg := New(root)
	require.NoError(t, reg.Remove(TierCustom, "scratch.sh"))

	assert.Nil(t, reg.Resolve("scratch.sh"))
	_, err := os.Stat(filepath.Join(root, "usermodules", "scratch.sh.version"))
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveUnknownAliasReturnsError(t *testing.T) {
	reg := New(t.TempDir())
	assert.Error(t, reg.Remove(TierPlugin, "doesNotExist"))
}

func TestParseTierAcceptsDirAndCanonicalNames(t *testing.T) {
	cases := map[string]Tier{
		"internal":    TierInternal,
		"internals":   TierInternal,
		"plugin":      TierPlugin,
		"plugins":     TierPlugin,
		"custom":      TierCustom,
		"usermodules": TierCustom,
	}
	for in, want := range cases {
		got, err := ParseTier(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseTier("bogus")
	assert.Error(t, err)
}
