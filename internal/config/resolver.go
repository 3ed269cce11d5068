// Package config implements the Configuration Resolver (C5): a layered,
// deep-overlay merge of caller overrides, the workspace config file, the
// user-global config file, and hard-coded defaults (spec.md §4.5).
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/odi-dev/odi/internal/odierr"
)

// AuthHint enumerates remote.<name>.auth_hint values.
type AuthHint string

const (
	AuthNone   AuthHint = "none"
	AuthSSHKey AuthHint = "ssh_key"
	AuthToken  AuthHint = "token"
)

// ConflictStrategy enumerates sync.conflict_strategy values.
type ConflictStrategy string

const (
	StrategyManual       ConflictStrategy = "manual"
	StrategyPreferLocal  ConflictStrategy = "prefer_local"
	StrategyPreferRemote ConflictStrategy = "prefer_remote"
	StrategyPreferNewer  ConflictStrategy = "prefer_newer"
)

const defaultMaxObjectBytes = 64 << 20 // 64 MiB

// Effective is the fully merged, validated configuration (spec.md §4.5).
type Effective struct {
	UserName       string
	UserEmail      string
	UserSigningKey string

	WorkspaceActiveProjects []string
	WorkspaceDefaultProject string

	Projects map[string]ProjectConfig
	Remotes  map[string]RemoteConfig

	SyncConflictStrategy ConflictStrategy
	SyncCompressObjects  bool

	MaxObjectBytes uint64
}

// ProjectConfig holds the project.<id>.* section.
type ProjectConfig struct {
	Name           string
	DefaultLabels  []string
	VCSIntegration bool
}

// RemoteConfig holds the remote.<name>.* section.
type RemoteConfig struct {
	URL      string
	Projects []string
	AuthHint AuthHint
}

// defaults returns the hard-coded base layer (lowest precedence).
func defaults() map[string]any {
	return map[string]any{
		"sync": map[string]any{
			"conflict_strategy": string(StrategyManual),
			"compress_objects":  true,
		},
		"limits": map[string]any{
			"max_object_bytes": defaultMaxObjectBytes,
		},
	}
}

// Resolver builds an Effective configuration from the four layers of
// spec.md §4.5, highest precedence first: caller overrides, workspace file,
// user-global file, defaults.
type Resolver struct {
	workspaceRoot string
}

// New returns a Resolver for a workspace rooted at workspaceRoot.
func New(workspaceRoot string) *Resolver {
	return &Resolver{workspaceRoot: workspaceRoot}
}

// userConfigPath locates the platform-defined user-global config file,
// $XDG_CONFIG_HOME (or os.UserConfigDir())/odi/config.yaml.
func userConfigPath() (string, bool) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", false
	}
	p := filepath.Join(dir, "odi", "config.yaml")
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

func (r *Resolver) workspaceConfigPath() (string, bool) {
	p := filepath.Join(r.workspaceRoot, "config")
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

func loadYAMLLayer(path string) (map[string]any, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read config file %s: %v", odierr.ErrIO, path, err)
	}
	return v.AllSettings(), nil
}

// Resolve merges the four layers (overrides highest, defaults lowest) via
// deep overlay and validates the result.
func (r *Resolver) Resolve(overrides map[string]any) (Effective, error) {
	merged := defaults()

	if p, ok := userConfigPath(); ok {
		layer, err := loadYAMLLayer(p)
		if err != nil {
			return Effective{}, err
		}
		merged = deepOverlay(merged, layer)
	}

	if p, ok := r.workspaceConfigPath(); ok {
		layer, err := loadYAMLLayer(p)
		if err != nil {
			return Effective{}, err
		}
		merged = deepOverlay(merged, layer)
	}

	if overrides != nil {
		merged = deepOverlay(merged, overrides)
	}

	return buildEffective(merged)
}

// deepOverlay merges patch onto base: scalar leaves replace, map keys union
// with child-level overlay, sequence (slice) leaves replace entirely — no
// element-wise merge, per spec.md §4.5.
func deepOverlay(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, pv := range patch {
		bv, exists := out[k]
		if !exists {
			out[k] = pv
			continue
		}
		bMap, bIsMap := asStringMap(bv)
		pMap, pIsMap := asStringMap(pv)
		if bIsMap && pIsMap {
			out[k] = deepOverlay(bMap, pMap)
			continue
		}
		out[k] = pv // scalar replace, or sequence replace-entirely
	}
	return out
}

func asStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, vv := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = vv
		}
		return out, true
	default:
		return nil, false
	}
}

func subMap(m map[string]any, key string) map[string]any {
	v, ok := m[key]
	if !ok {
		return nil
	}
	sm, _ := asStringMap(v)
	return sm
}

func stringVal(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func boolVal(m map[string]any, key string, def bool) bool {
	if m == nil {
		return def
	}
	v, ok := m[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func stringSlice(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	v, ok := m[key]
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if es, ok := e.(string); ok {
				out = append(out, es)
			}
		}
		return out
	default:
		return nil
	}
}

func uintVal(m map[string]any, key string, def uint64) uint64 {
	if m == nil {
		return def
	}
	v, ok := m[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return uint64(n)
	case int64:
		return uint64(n)
	case uint64:
		return n
	case float64:
		return uint64(n)
	default:
		return def
	}
}

func buildEffective(merged map[string]any) (Effective, error) {
	user := subMap(merged, "user")
	workspace := subMap(merged, "workspace")
	sync := subMap(merged, "sync")
	limits := subMap(merged, "limits")

	eff := Effective{
		UserName:                stringVal(user, "name"),
		UserEmail:               stringVal(user, "email"),
		UserSigningKey:          stringVal(user, "signing_key"),
		WorkspaceActiveProjects: stringSlice(workspace, "active_projects"),
		WorkspaceDefaultProject: stringVal(workspace, "default_project"),
		Projects:                map[string]ProjectConfig{},
		Remotes:                 map[string]RemoteConfig{},
		SyncConflictStrategy:    ConflictStrategy(stringVal(sync, "conflict_strategy")),
		SyncCompressObjects:     boolVal(sync, "compress_objects", true),
		MaxObjectBytes:          uintVal(limits, "max_object_bytes", defaultMaxObjectBytes),
	}
	if eff.SyncConflictStrategy == "" {
		eff.SyncConflictStrategy = StrategyManual
	}

	if projects := subMap(merged, "project"); projects != nil {
		for id, raw := range projects {
			pm, _ := asStringMap(raw)
			eff.Projects[id] = ProjectConfig{
				Name:           stringVal(pm, "name"),
				DefaultLabels:  stringSlice(pm, "default_labels"),
				VCSIntegration: boolVal(pm, "vcs_integration", false),
			}
		}
	}

	if remotes := subMap(merged, "remote"); remotes != nil {
		for name, raw := range remotes {
			rm, _ := asStringMap(raw)
			eff.Remotes[name] = RemoteConfig{
				URL:      stringVal(rm, "url"),
				Projects: stringSlice(rm, "projects"),
				AuthHint: AuthHint(stringVal(rm, "auth_hint")),
			}
		}
	}

	if err := validate(eff); err != nil {
		return Effective{}, err
	}
	return eff, nil
}

var supportedSchemes = map[string]bool{"file": true, "ssh": true, "http": true, "https": true}

func validate(eff Effective) error {
	switch eff.SyncConflictStrategy {
	case StrategyManual, StrategyPreferLocal, StrategyPreferRemote, StrategyPreferNewer:
	default:
		return &odierr.ConfigError{Path: "sync.conflict_strategy",
			Reason: fmt.Sprintf("unrecognized value %q", eff.SyncConflictStrategy)}
	}

	for _, pid := range eff.WorkspaceActiveProjects {
		if _, ok := eff.Projects[pid]; !ok {
			return &odierr.ConfigError{Path: "workspace.active_projects",
				Reason: fmt.Sprintf("project %q has no matching [project.%s] section", pid, pid)}
		}
	}

	for name, rc := range eff.Remotes {
		if rc.URL == "" {
			return &odierr.ConfigError{Path: fmt.Sprintf("remote.%s.url", name), Reason: "required"}
		}
		u, err := url.Parse(rc.URL)
		if err != nil {
			return &odierr.ConfigError{Path: fmt.Sprintf("remote.%s.url", name), Reason: err.Error()}
		}
		scheme := strings.ToLower(u.Scheme)
		if !supportedSchemes[scheme] {
			return &odierr.ConfigError{Path: fmt.Sprintf("remote.%s.url", name),
				Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
		}
		switch rc.AuthHint {
		case "", AuthNone, AuthSSHKey, AuthToken:
		default:
			return &odierr.ConfigError{Path: fmt.Sprintf("remote.%s.auth_hint", name),
				Reason: fmt.Sprintf("unrecognized value %q", rc.AuthHint)}
		}
	}

	return nil
}
