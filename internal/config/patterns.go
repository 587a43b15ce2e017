package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PatternConfig holds the marker sets the crash detector matches against
// captured pane content. These are policy, not mechanism: they are meant to be
// tuned per deployment without a rebuild, either inline in the TOML config or
// via an external YAML file that can be hot-reloaded.
type PatternConfig struct {
	// Prompt regexes indicate an interactive prompt waiting for input.
	Prompt []string `toml:"prompt" yaml:"prompt"`
	// Busy substrings indicate the agent is actively producing output.
	// When these match, do not interrupt the agent.
	Busy []string `toml:"busy" yaml:"busy"`
	// Crash substrings are error/terminal markers. Crash classification
	// requires one of these AND the absence of a prompt.
	Crash []string `toml:"crash" yaml:"crash"`
	// Exit markers indicate the hosted process exited. Always a crash.
	Exit []string `toml:"exit" yaml:"exit"`
	// Alive regexes positively confirm a known-good agent banner.
	Alive []string `toml:"alive" yaml:"alive"`
}

// DefaultPatterns returns marker sets that cover the common agent CLIs.
// Broad on purpose: a false "busy" costs one skipped check, a false "crashed"
// costs a recovery action.
func DefaultPatterns() PatternConfig {
	return PatternConfig{
		Prompt: []string{
			`>\s*$`,
			`(?m)^>\s*`,
			`\?\s*$`,
			`\$\s*$`,
			`waiting for input`,
		},
		Busy: []string{
			"```",
			"writing ",
			"reading ",
			"running ",
			"executing ",
			"searching ",
			"compiling",
			"building",
			"testing",
			"fetching",
			"downloading",
			"thinking",
		},
		Crash: []string{
			"panic:",
			"fatal:",
			"traceback (most recent call last)",
			"segmentation fault",
			"killed",
			"command not found",
			"connection refused",
			"exited with code",
			"process exited",
		},
		Exit: []string{
			"pane is dead",
		},
		Alive: []string{
			`(?i)\b(opus|claude|sonnet|haiku)\b`,
			`(?i)\b(codex|gpt-\d)\b`,
			`(?i)gemini-\d`,
		},
	}
}

// LoadPatternsFile reads a YAML pattern file. Fields present in the file
// replace the corresponding defaults; absent fields keep them.
func LoadPatternsFile(path string, base PatternConfig) (PatternConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read patterns file: %w", err)
	}

	var over PatternConfig
	if err := yaml.Unmarshal(data, &over); err != nil {
		return base, fmt.Errorf("parse patterns file %s: %w", path, err)
	}

	return base.merge(over), nil
}

// merge overlays non-empty fields of over onto p.
func (p PatternConfig) merge(over PatternConfig) PatternConfig {
	out := p
	if len(over.Prompt) > 0 {
		out.Prompt = over.Prompt
	}
	if len(over.Busy) > 0 {
		out.Busy = over.Busy
	}
	if len(over.Crash) > 0 {
		out.Crash = over.Crash
	}
	if len(over.Exit) > 0 {
		out.Exit = over.Exit
	}
	if len(over.Alive) > 0 {
		out.Alive = over.Alive
	}
	return out
}
