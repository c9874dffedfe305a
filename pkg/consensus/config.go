package consensus

import (
	"fmt"
	"sort"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/governance"
)

// Weights is the per-role vote weight table.
type Weights struct {
	Owner    int
	Manager  int
	Analyst  int
	Override int
}

// For returns the weight of a binding vote cast with role.
func (w Weights) For(role governance.Role) int {
	switch role {
	case governance.RoleOwner:
		return w.Owner
	case governance.RoleManager:
		return w.Manager
	case governance.RoleAnalyst:
		return w.Analyst
	default:
		return 0
	}
}

// QuorumRule is the minimum binding vote count and winning weight required
// before consensus can be reached.
type QuorumRule struct {
	MinVotes  int
	MinWeight int
}

// OrgOverride replaces weights or quorum thresholds for one organization.
// Nil and missing entries fall back to the global configuration.
type OrgOverride struct {
	Weights *Weights
	Quorum  map[governance.RiskLevel]QuorumRule
}

// Config contains configuration for the consensus engine.
type Config struct {
	Weights      Weights
	Quorum       map[governance.RiskLevel]QuorumRule
	OrgOverrides map[string]OrgOverride

	// AutoApply hands a reached outcome to the queue immediately.
	AutoApply bool
}

// DefaultConfig returns the built-in weight table and quorum thresholds.
func DefaultConfig() *Config {
	return &Config{
		Weights: Weights{
			Owner:    config.DefaultWeightOwner,
			Manager:  config.DefaultWeightManager,
			Analyst:  config.DefaultWeightAnalyst,
			Override: config.DefaultWeightOverride,
		},
		Quorum: map[governance.RiskLevel]QuorumRule{
			governance.RiskLow:    {MinVotes: 1, MinWeight: 2},
			governance.RiskMedium: {MinVotes: 2, MinWeight: 4},
			governance.RiskHigh:   {MinVotes: 2, MinWeight: 6},
		},
		AutoApply: config.DefaultAutoApply,
	}
}

// FromConfig converts the file configuration. Risk levels missing from the
// file keep their built-in thresholds. Unknown risk level keys fail with a
// QuorumConfigError.
func FromConfig(cfg *config.ConsensusConfig) (*Config, error) {
	out := &Config{
		Weights:   weightsFrom(cfg.Weights),
		AutoApply: cfg.AutoApply,
	}

	quorum, err := quorumFrom(cfg.Quorum)
	if err != nil {
		return nil, err
	}
	out.Quorum = DefaultConfig().Quorum
	for level, rule := range quorum {
		out.Quorum[level] = rule
	}

	if len(cfg.OrgOverrides) > 0 {
		out.OrgOverrides = make(map[string]OrgOverride, len(cfg.OrgOverrides))
		for org, o := range cfg.OrgOverrides {
			override := OrgOverride{}
			if o.Weights != nil {
				w := weightsFrom(*o.Weights)
				override.Weights = &w
			}
			q, err := quorumFrom(o.Quorum)
			if err != nil {
				return nil, fmt.Errorf("organization %s: %w", org, err)
			}
			override.Quorum = q
			out.OrgOverrides[org] = override
		}
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func weightsFrom(w config.WeightsConfig) Weights {
	return Weights{Owner: w.Owner, Manager: w.Manager, Analyst: w.Analyst, Override: w.Override}
}

func quorumFrom(in map[string]config.QuorumRuleConfig) (map[governance.RiskLevel]QuorumRule, error) {
	out := make(map[governance.RiskLevel]QuorumRule, len(in))
	for key, rule := range in {
		level, err := governance.ParseRiskLevel(key)
		if err != nil {
			return nil, &governance.QuorumConfigError{RiskLevel: governance.RiskLevel(key), Message: "unknown risk level"}
		}
		out[level] = QuorumRule{MinVotes: rule.MinVotes, MinWeight: rule.MinWeight}
	}
	return out, nil
}

// Validate validates the engine configuration.
func (c *Config) Validate() error {
	if err := validateWeights(c.Weights); err != nil {
		return err
	}
	for _, level := range []governance.RiskLevel{governance.RiskLow, governance.RiskMedium, governance.RiskHigh} {
		if _, ok := c.Quorum[level]; !ok {
			return &governance.QuorumConfigError{RiskLevel: level, Message: "no quorum rule"}
		}
	}
	if err := validateQuorum(c.Quorum); err != nil {
		return err
	}

	orgs := make([]string, 0, len(c.OrgOverrides))
	for org := range c.OrgOverrides {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)
	for _, org := range orgs {
		o := c.OrgOverrides[org]
		if o.Weights != nil {
			if err := validateWeights(*o.Weights); err != nil {
				return fmt.Errorf("organization %s: %w", org, err)
			}
		}
		if err := validateQuorum(o.Quorum); err != nil {
			return fmt.Errorf("organization %s: %w", org, err)
		}
	}
	return nil
}

func validateWeights(w Weights) error {
	if w.Owner < 0 || w.Manager < 0 || w.Analyst < 0 {
		return &governance.QuorumConfigError{Message: "role weights cannot be negative"}
	}
	if w.Override <= 0 {
		return &governance.QuorumConfigError{Message: "override weight must be positive"}
	}
	return nil
}

func validateQuorum(q map[governance.RiskLevel]QuorumRule) error {
	for level, rule := range q {
		if !level.Valid() {
			return &governance.QuorumConfigError{RiskLevel: level, Message: "unknown risk level"}
		}
		if rule.MinVotes < 1 {
			return &governance.QuorumConfigError{RiskLevel: level, Message: "min_votes must be at least 1"}
		}
		if rule.MinWeight < 1 {
			return &governance.QuorumConfigError{RiskLevel: level, Message: "min_weight must be at least 1"}
		}
	}
	return nil
}

// WeightsFor returns the weight table for an organization.
func (c *Config) WeightsFor(orgID string) Weights {
	if o, ok := c.OrgOverrides[orgID]; ok && o.Weights != nil {
		return *o.Weights
	}
	return c.Weights
}

// QuorumFor returns the thresholds for an organization and risk level.
func (c *Config) QuorumFor(orgID string, level governance.RiskLevel) (QuorumRule, error) {
	if o, ok := c.OrgOverrides[orgID]; ok {
		if rule, ok := o.Quorum[level]; ok {
			return rule, nil
		}
	}
	rule, ok := c.Quorum[level]
	if !ok {
		return QuorumRule{}, &governance.QuorumConfigError{RiskLevel: level, Message: "no quorum rule"}
	}
	return rule, nil
}
