package config

// TriggerConfig decides which events start a pipeline run and how runs on the
// same ref are scheduled.
type TriggerConfig struct {
	// Branches lists branch patterns that admit push events.
	// Uses standard pattern syntax: regex, literal, or !negated.
	//   ["main"]                      → only main (literals match exactly)
	//   ["main", "^release/.*"]       → main or release branches
	//   ["release", "!^.*-wip$"]      → policy name "release", but not -wip
	// Empty = push events never admit (manual dispatch still may).
	Branches []string `yaml:"branches" toml:"branches"`

	// Tags lists git tag patterns that admit tag pushes (refs/tags/...).
	// Empty = tag pushes never admit.
	Tags []string `yaml:"tags" toml:"tags"`

	// Policies maps names to regex patterns so branch and tag lists can
	// reference them by name, e.g. release: "^release/.*".
	Policies map[string]string `yaml:"policies" toml:"policies"`

	// AllowManual admits explicit manual dispatches regardless of ref.
	AllowManual bool `yaml:"allow_manual" toml:"allow_manual"`

	// MaxConcurrentPerRef limits executing runs per ref. Extra runs queue in
	// arrival order. Zero = unlimited (runs on one ref are independent).
	MaxConcurrentPerRef int `yaml:"max_concurrent_per_ref" toml:"max_concurrent_per_ref"`

	// CancelInProgress cancels older queued runs of a ref when a newer one is
	// admitted, and asks in-flight runs to stop at their next stage boundary.
	CancelInProgress bool `yaml:"cancel_in_progress" toml:"cancel_in_progress"`

	// MaxParallelRuns bounds how many runs execute at once across all refs.
	// Zero = unlimited.
	MaxParallelRuns int `yaml:"max_parallel_runs" toml:"max_parallel_runs"`
}

// DefaultTriggerConfig admits pushes to main and manual dispatches.
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		Branches:    []string{"main"},
		Policies:    map[string]string{},
		AllowManual: true,
	}
}
