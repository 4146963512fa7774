package trigger

import (
	"fmt"

	"github.com/sofmeright/freightline/src/config"
)

// Decision is the outcome of evaluating one event.
type Decision struct {
	Admit  bool
	Reason string // why the event was or was not admitted
	Params Params
}

// Params are the run parameters taken from an admitted event.
type Params struct {
	Ref    string // canonical ref, e.g. refs/heads/main
	Name   string // branch or tag name
	Commit string // empty = the ref's current head
	Actor  string
	Manual bool
	Tag    bool
}

// Evaluator holds compiled trigger patterns. Safe for concurrent use.
type Evaluator struct {
	cfg      config.TriggerConfig
	branches *config.CompiledPatterns
	tags     *config.CompiledPatterns
}

// NewEvaluator compiles the branch and tag patterns of cfg.
func NewEvaluator(cfg config.TriggerConfig) (*Evaluator, error) {
	branches, err := config.CompilePatterns(cfg.Branches, cfg.Policies)
	if err != nil {
		return nil, fmt.Errorf("trigger.branches: %w", err)
	}
	tags, err := config.CompilePatterns(cfg.Tags, cfg.Policies)
	if err != nil {
		return nil, fmt.Errorf("trigger.tags: %w", err)
	}
	return &Evaluator{cfg: cfg, branches: branches, tags: tags}, nil
}

// Evaluate compiles cfg and evaluates a single event. An invalid pattern
// rejects the event; validate configuration up front to surface it.
func Evaluate(ev Event, cfg config.TriggerConfig) Decision {
	e, err := NewEvaluator(cfg)
	if err != nil {
		return Decision{Reason: err.Error()}
	}
	return e.Evaluate(ev)
}

// Evaluate admits a manual dispatch when allowed, and otherwise a push whose
// ref matches the configured branch (or tag) patterns. Rejection is not an
// error: no run is created and nothing is reported.
func (e *Evaluator) Evaluate(ev Event) Decision {
	if err := ev.Validate(); err != nil {
		return Decision{Reason: err.Error()}
	}

	params := Params{
		Ref:    CanonicalRef(ev.Ref),
		Name:   ev.Name(),
		Commit: ev.Commit,
		Actor:  ev.Actor,
		Manual: ev.Type == Manual,
		Tag:    ev.IsTag(),
	}

	if ev.Type == Manual && e.cfg.AllowManual {
		return Decision{Admit: true, Reason: "manual dispatch", Params: params}
	}

	patterns, kind := e.branches, "branch"
	if params.Tag {
		patterns, kind = e.tags, "tag"
	}
	// No patterns configured means nothing of this kind is admitted, unlike
	// Match which treats an empty list as match-all.
	if patterns.Empty() {
		return Decision{Reason: fmt.Sprintf("no %s patterns configured", kind), Params: params}
	}
	if !patterns.Match(params.Name) {
		return Decision{Reason: fmt.Sprintf("%s %q does not match trigger patterns", kind, params.Name), Params: params}
	}
	return Decision{Admit: true, Reason: fmt.Sprintf("%s %q matches", kind, params.Name), Params: params}
}
