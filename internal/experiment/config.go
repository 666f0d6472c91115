// Package experiment holds A/B experiment configuration, windowed
// aggregation over the metrics ledger, and the safety evaluation that
// recommends freezes and rollbacks.
package experiment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ExperimentStatus is the lifecycle state of an experiment
type ExperimentStatus string

const (
	StatusDraft   ExperimentStatus = "draft"
	StatusRunning ExperimentStatus = "running"
	StatusPaused  ExperimentStatus = "paused"
	StatusEnded   ExperimentStatus = "ended"
)

// TemplateRef binds a template to a variant within an experiment
type TemplateRef struct {
	TemplateID string `json:"template_id"`
	Variant    string `json:"variant"`
	Status     string `json:"status,omitempty"`
}

// DecisionRule configures the statistical promotion decision
type DecisionRule struct {
	Alpha   float64 `json:"alpha"`
	MinLift float64 `json:"min_lift"`
}

// RollbackRule configures when a running experiment should be rolled
// back.
type RollbackRule struct {
	MinSentTotal   int     `json:"min_sent_total"`
	MaxDaysNoReply int     `json:"max_days_no_reply"`
	MinReplyRate   float64 `json:"min_reply_rate"`
}

// Config is one experiment definition
type Config struct {
	ExperimentID      string           `json:"experiment_id"`
	Status            ExperimentStatus `json:"status"`
	StartAt           time.Time        `json:"start_at"`
	Templates         []TemplateRef    `json:"templates"`
	DecisionRule      DecisionRule     `json:"decision_rule"`
	MinSentPerVariant int              `json:"min_sent_per_variant"`
	RollbackRule      RollbackRule     `json:"rollback_rule"`
	FreezeOnLowN      *bool            `json:"freeze_on_low_n,omitempty"`
}

// FreezeOnLowNEnabled returns the flag with its default (true)
func (c *Config) FreezeOnLowNEnabled() bool {
	if c.FreezeOnLowN == nil {
		return true
	}
	return *c.FreezeOnLowN
}

// TemplateIDs returns the set of template IDs in the experiment
func (c *Config) TemplateIDs() map[string]string {
	ids := make(map[string]string, len(c.Templates))
	for _, t := range c.Templates {
		ids[t.TemplateID] = t.Variant
	}
	return ids
}

// Registry is the experiments.json file: {"experiments": [...]}
type Registry struct {
	path        string
	Experiments []Config `json:"experiments"`
}

// LoadRegistry reads experiments.json; a missing file is an empty
// registry.
func LoadRegistry(path string) (*Registry, error) {
	reg := &Registry{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, fmt.Errorf("failed to read experiment registry: %w", err)
	}

	if err := json.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("failed to parse experiment registry: %w", err)
	}

	return reg, nil
}

// Get returns the experiment with the given ID, or nil
func (r *Registry) Get(experimentID string) *Config {
	for i := range r.Experiments {
		if r.Experiments[i].ExperimentID == experimentID {
			return &r.Experiments[i]
		}
	}
	return nil
}

// Running returns all experiments in the running state
func (r *Registry) Running() []Config {
	var out []Config
	for _, exp := range r.Experiments {
		if exp.Status == StatusRunning {
			out = append(out, exp)
		}
	}
	return out
}

// Upsert inserts or replaces an experiment by ID
func (r *Registry) Upsert(cfg Config) {
	for i := range r.Experiments {
		if r.Experiments[i].ExperimentID == cfg.ExperimentID {
			r.Experiments[i] = cfg
			return
		}
	}
	r.Experiments = append(r.Experiments, cfg)
}

// Save writes the registry back atomically (write-temp + rename)
func (r *Registry) Save() error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal experiment registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".experiments-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write experiment registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace experiment registry: %w", err)
	}

	return nil
}
