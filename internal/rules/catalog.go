// Package rules holds the SQL rule catalog and runs its rules against the
// staging tables of a submission.
package rules

import (
	"context"
	"embed"
	"fmt"

	"data-act-broker/internal/model"
	"data-act-broker/internal/schema"

	"gopkg.in/yaml.v3"
)

//go:embed assets/rules.yaml
var assetsFS embed.FS

type ruleDoc struct {
	model.RuleSQL `yaml:",inline"`
	Impact        model.Impact `yaml:"impact"`
}

type catalogDoc struct {
	Rules []ruleDoc `yaml:"rules"`
}

// Catalog is the shipped rule set with its global default settings.
type Catalog struct {
	Rules    []model.RuleSQL
	Defaults []model.RuleSetting
}

// SeedStore persists the catalog.
type SeedStore interface {
	UpsertRules(ctx context.Context, rules []model.RuleSQL) error
	EnsureDefaultSettings(ctx context.Context, settings []model.RuleSetting) error
}

func LoadCatalog(registry *schema.Registry) (*Catalog, error) {
	data, err := assetsFS.ReadFile("assets/rules.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read rule catalog: %w", err)
	}
	return ParseCatalog(registry, data)
}

// ParseCatalog decodes and checks a rule catalog. Default priorities are
// assigned per (file, target, severity) in catalog order. Settings of
// cross-file rules are keyed by the ordered pair of their two files.
func ParseCatalog(registry *schema.Registry, data []byte) (*Catalog, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule catalog: %w", err)
	}

	c := &Catalog{}
	seen := make(map[string]bool)
	next := make(map[string]int)
	for _, d := range doc.Rules {
		r := d.RuleSQL
		r.Active = true
		if err := checkRule(r); err != nil {
			return nil, err
		}
		if _, err := registry.Get(r.FileType); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.RuleLabel, err)
		}

		id := r.FileType + "|" + r.Target() + "|" + r.RuleLabel
		if seen[id] {
			return nil, fmt.Errorf("rule %s: duplicate label for file %s", r.RuleLabel, r.FileType)
		}
		seen[id] = true
		c.Rules = append(c.Rules, r)

		source, target := r.FileType, r.TargetFileType
		if r.CrossFileFlag {
			pair, err := NewPair(registry, r.FileType, r.Target())
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", r.RuleLabel, err)
			}
			source, target = pair.Source.Name, &pair.Target.Name
		}
		group := source + "|" + derefTarget(target) + "|" + string(r.Severity)
		next[group]++

		impact := d.Impact
		if impact == "" {
			impact = model.ImpactHigh
		}
		c.Defaults = append(c.Defaults, model.RuleSetting{
			RuleLabel:      r.RuleLabel,
			FileType:       source,
			TargetFileType: target,
			Severity:       r.Severity,
			Priority:       next[group],
			Impact:         impact,
		})
	}
	return c, nil
}

func checkRule(r model.RuleSQL) error {
	switch {
	case r.RuleLabel == "":
		return fmt.Errorf("rule without label in file %s", r.FileType)
	case r.FileType == "":
		return fmt.Errorf("rule %s: file is required", r.RuleLabel)
	case r.Severity != model.SeverityFatal && r.Severity != model.SeverityWarning:
		return fmt.Errorf("rule %s: invalid severity %q", r.RuleLabel, r.Severity)
	case r.CrossFileFlag && r.Target() == "":
		return fmt.Errorf("rule %s: cross-file rule needs a target file", r.RuleLabel)
	case !r.CrossFileFlag && r.Target() != "":
		return fmt.Errorf("rule %s: target file set on a single-file rule", r.RuleLabel)
	case r.SQLText == "":
		return fmt.Errorf("rule %s: sql is required", r.RuleLabel)
	}
	return nil
}

// Seed upserts the catalog rules and inserts missing global defaults.
func (c *Catalog) Seed(ctx context.Context, store SeedStore) error {
	if err := store.UpsertRules(ctx, c.Rules); err != nil {
		return err
	}
	return store.EnsureDefaultSettings(ctx, c.Defaults)
}

func derefTarget(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
