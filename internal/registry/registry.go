// Package registry implements the module registry (C4): it enumerates the
// plug-in programs installed under the agent's install root and resolves a
// command name to exactly one executable across three shadowing tiers.
package registry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Tier is one of the three module classes, in shadowing priority order.
type Tier int

const (
	TierInternal Tier = iota
	TierPlugin
	TierCustom
)

func (t Tier) String() string {
	switch t {
	case TierInternal:
		return "internal"
	case TierPlugin:
		return "plugin"
	case TierCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ParseTier maps a tier's directory name, or its String() form, back to a
// Tier, for CLI front ends that take the name as a flag value.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(s) {
	case "internal", "internals":
		return TierInternal, nil
	case "plugin", "plugins":
		return TierPlugin, nil
	case "custom", "usermodules":
		return TierCustom, nil
	default:
		return 0, fmt.Errorf("registry: unknown tier %q", s)
	}
}

// tierOrder gives each tier's subdirectory under the install root, in
// shadowing priority order (Internal shadows Plugin shadows Custom).
var tierOrder = []struct {
	tier Tier
	dir  string
}{
	{TierInternal, "internals"},
	{TierPlugin, "plugins"},
	{TierCustom, "usermodules"},
}

// candidateExts are the file extensions (including the empty extension,
// for extensionless executables) considered plug-in candidates.
var candidateExts = map[string]bool{
	"":     true,
	".exe": true,
	".py":  true,
	".sh":  true,
	".bat": true,
}

// builtinAliases overrides the default "strip the extension" alias for
// specific Internal/Plugin file names. Empty by default: every shipped
// plug-in's alias already equals its basename with the extension removed
// (e.g. modulemng.py -> modulemng), so no entries are required today; the
// table exists so a future rename can shadow an old alias without moving
// the file.
var builtinAliases = map[string]string{}

// Module is one registry entry.
type Module struct {
	Tier           Tier
	Alias          string
	ExecutablePath string
	Version        float64
	Upgradable     bool
	Blocking       bool
}

// Registry resolves command names against the filesystem rooted at an
// install directory.
type Registry struct {
	root string
}

// New constructs a Registry rooted at installRoot.
func New(installRoot string) *Registry {
	return &Registry{root: installRoot}
}

func stripCandidateExt(name string) (base string, ok bool) {
	ext := filepath.Ext(name)
	if !candidateExts[ext] {
		return "", false
	}
	return strings.TrimSuffix(name, ext), true
}

func aliasFor(tier Tier, fileName string) string {
	base, _ := stripCandidateExt(fileName)
	if tier == TierCustom {
		// Custom modules are opaque, user-uploaded files: no canonical
		// rename table applies, the alias is the file name as given.
		return fileName
	}
	if alias, ok := builtinAliases[base]; ok {
		return alias
	}
	return base
}

func readVersion(path string) float64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0
	}
	return v
}

func hasBlockingSentinel(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Enumerate lists every module across all tiers. A file that disappears
// between the directory listing and its stat (concurrent churn, e.g. a
// module update landing mid-scan) is silently skipped rather than failing
// the whole enumeration, per §4.6's snapshot invariant.
func (r *Registry) Enumerate() map[Tier][]Module {
	result := make(map[Tier][]Module, len(tierOrder))
	for _, te := range tierOrder {
		result[te.tier] = r.enumerateTier(te.tier, filepath.Join(r.root, te.dir))
	}
	return result
}

func (r *Registry) enumerateTier(tier Tier, dir string) []Module {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var mods []Module
	for _, de := range entries {
		name := de.Name()
		if _, ok := stripCandidateExt(name); !ok {
			continue
		}
		if strings.HasSuffix(name, ".version") || strings.HasSuffix(name, ".blocking") {
			continue
		}

		fullPath := filepath.Join(dir, name)
		info, err := de.Info()
		if err != nil {
			// Vanished between readdir and stat: skip, don't fail.
			continue
		}
		if info.IsDir() {
			continue
		}

		mods = append(mods, Module{
			Tier:           tier,
			Alias:          aliasFor(tier, name),
			ExecutablePath: fullPath,
			Version:        readVersion(fullPath + ".version"),
			Upgradable:     tier != TierInternal,
			Blocking:       hasBlockingSentinel(fullPath + ".blocking"),
		})
	}

	sort.Slice(mods, func(i, j int) bool { return mods[i].Alias < mods[j].Alias })
	return mods
}

// Dir returns the absolute directory a tier's modules live in.
func (r *Registry) Dir(tier Tier) string {
	for _, te := range tierOrder {
		if te.tier == tier {
			return filepath.Join(r.root, te.dir)
		}
	}
	return ""
}

// Install places src's contents into tier under fileName, the file
// placement step the registry itself normally never performs (§4.6 notes
// that's "the child's job" for a wire-driven update); serclientctl calls
// this directly for local operator installs. version and blocking write
// the sibling sentinel files when non-zero/true.
func (r *Registry) Install(tier Tier, fileName string, src io.Reader, version float64, blocking bool) error {
	dir := r.Dir(tier)
	if dir == "" {
		return fmt.Errorf("registry: unknown tier %v", tier)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("registry: mkdir %s: %w", dir, err)
	}

	dstPath := filepath.Join(dir, fileName)
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return fmt.Errorf("registry: create %s: %w", dstPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("registry: write %s: %w", dstPath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("registry: close %s: %w", dstPath, err)
	}

	if version != 0 {
		if err := os.WriteFile(dstPath+".version", []byte(strconv.FormatFloat(version, 'f', -1, 64)), 0o644); err != nil {
			return fmt.Errorf("registry: write version sentinel: %w", err)
		}
	}
	if blocking {
		if err := os.WriteFile(dstPath+".blocking", nil, 0o644); err != nil {
			return fmt.Errorf("registry: write blocking sentinel: %w", err)
		}
	}
	return nil
}

// Remove deletes a module's file and its sentinels from tier, resolved by
// alias. It is a no-op error ("not found") if alias isn't present there.
func (r *Registry) Remove(tier Tier, alias string) error {
	mods := r.enumerateTier(tier, r.Dir(tier))
	for _, m := range mods {
		if m.Alias != alias {
			continue
		}
		if err := os.Remove(m.ExecutablePath); err != nil {
			return fmt.Errorf("registry: remove %s: %w", m.ExecutablePath, err)
		}
		os.Remove(m.ExecutablePath + ".version")
		os.Remove(m.ExecutablePath + ".blocking")
		return nil
	}
	return fmt.Errorf("registry: %s not found in tier %v", alias, tier)
}

// Resolve finds the module bound to name, searching tiers in shadowing
// order (Internal, Plugin, Custom) and returning the first hit. A nil
// result (no error) means "unknown command", per §3's Command.module.
func (r *Registry) Resolve(name string) *Module {
	all := r.Enumerate()
	for _, te := range tierOrder {
		for i := range all[te.tier] {
			if all[te.tier][i].Alias == name {
				m := all[te.tier][i]
				return &m
			}
		}
	}
	return nil
}
