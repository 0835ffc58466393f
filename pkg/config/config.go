// Package config holds the analyzer settings. The LSP client pushes them
// as JSON through workspace/didChangeConfiguration; the CLI loads them
// from an HCL project file.
package config

import (
	"encoding/json"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"gitlab.com/tozd/go/errors"
)

// Settings controls analysis behavior. Zero value is not useful, start
// from Default.
type Settings struct {
	// Enabled turns the whole analyzer on or off.
	Enabled bool `json:"enabled" hcl:"enabled,optional"`

	// HighlightUntyped renders templates without a language annotation as
	// plain strings and adds a hint diagnostic suggesting an annotation.
	HighlightUntyped bool `json:"highlightUntyped" hcl:"highlight_untyped,optional"`

	// EnableTypeChecking turns on cross-module resolution through the
	// external type checker.
	EnableTypeChecking bool `json:"enableTypeChecking" hcl:"enable_type_checking,optional"`

	// TypeCheckerPath is the checker executable.
	TypeCheckerPath string `json:"typeCheckerPath" hcl:"type_checker_path,optional"`

	// TypeCheckerTimeoutMs bounds one cross-module lookup.
	TypeCheckerTimeoutMs int `json:"typeCheckerTimeoutMs" hcl:"type_checker_timeout_ms,optional"`
}

func Default() Settings {
	return Settings{
		Enabled:              true,
		HighlightUntyped:     true,
		TypeCheckerTimeoutMs: 2000,
	}
}

// Timeout returns the checker timeout as a duration.
func (s Settings) Timeout() time.Duration {
	if s.TypeCheckerTimeoutMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(s.TypeCheckerTimeoutMs) * time.Millisecond
}

// Merge applies a partial JSON settings object over s. Keys absent from
// raw keep their current value.
func (s Settings) Merge(raw map[string]any) (Settings, error) {
	buf, err := json.Marshal(raw)
	if err != nil {
		return s, errors.Errorf("encoding settings: %w", err)
	}
	out := s
	if err := json.Unmarshal(buf, &out); err != nil {
		return s, errors.Errorf("applying settings: %w", err)
	}
	return out, nil
}

// Load reads an HCL project file, overlaying it on the defaults.
func Load(path string) (Settings, error) {
	out := Default()
	if err := hclsimple.DecodeFile(path, nil, &out); err != nil {
		return Default(), errors.Errorf("loading %s: %w", path, err)
	}
	return out, nil
}
