// Package settings serves the per-agency ordering and impact of the rules
// shown for each file.
package settings

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"data-act-broker/internal/model"
	"data-act-broker/pkg/errors"

	"github.com/rs/zerolog"
)

type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	ActiveRules(ctx context.Context, fileType string, target *string) ([]model.RuleSQL, error)
	RuleSettings(ctx context.Context, agencyCode *string, fileType string, target *string, severity model.Severity) ([]model.RuleSetting, error)
	ReplaceRuleSettings(ctx context.Context, agencyCode string, fileType string, target *string, severity model.Severity, settings []model.RuleSetting) error
}

// fileKey is where the settings of a file code are stored. Cross-file
// codes name the pair in file order.
type fileKey struct {
	fileType string
	target   string
}

var fileCodes = map[string]fileKey{
	"A":         {fileType: "A"},
	"B":         {fileType: "B"},
	"C":         {fileType: "C"},
	"cross-AB":  {fileType: "A", target: "B"},
	"cross-BC":  {fileType: "B", target: "C"},
	"cross-CD1": {fileType: "C", target: "D1"},
	"cross-CD2": {fileType: "C", target: "D2"},
}

// FileCodes lists the accepted file codes.
func FileCodes() []string {
	codes := make([]string, 0, len(fileCodes))
	for c := range fileCodes {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

func (k fileKey) targetPtr() *string {
	if k.target == "" {
		return nil
	}
	t := k.target
	return &t
}

func lookupFile(file string) (fileKey, error) {
	key, ok := fileCodes[file]
	if !ok {
		return fileKey{}, errors.ValidationError{
			Field:   "file",
			Value:   file,
			Message: "must be one of " + strings.Join(FileCodes(), ", "),
		}
	}
	return key, nil
}

type Service struct {
	store Store
	log   zerolog.Logger
}

func NewService(store Store, log zerolog.Logger) *Service {
	return &Service{store: store, log: log.With().Str("component", "rule_settings").Logger()}
}

// activeRules returns the active rules of a file code split by severity.
// Cross-file codes include rules in both directions.
func (s *Service) activeRules(ctx context.Context, key fileKey) (map[model.Severity][]model.RuleSQL, error) {
	rules, err := s.store.ActiveRules(ctx, key.fileType, key.targetPtr())
	if err != nil {
		return nil, err
	}
	if key.target != "" {
		back := key.fileType
		backward, err := s.store.ActiveRules(ctx, key.target, &back)
		if err != nil {
			return nil, err
		}
		rules = append(rules, backward...)
	}

	out := make(map[model.Severity][]model.RuleSQL)
	for _, r := range rules {
		out[r.Severity] = append(out[r.Severity], r)
	}
	return out, nil
}

// List returns the agency's ordered errors and warnings for a file, or the
// global defaults when the agency never saved any.
func (s *Service) List(ctx context.Context, agencyCode, file string) (*model.RuleSettingsResponse, error) {
	key, err := lookupFile(file)
	if err != nil {
		return nil, err
	}
	active, err := s.activeRules(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for %s: %w", file, err)
	}

	resp := &model.RuleSettingsResponse{
		Errors:   []model.RuleSettingItem{},
		Warnings: []model.RuleSettingItem{},
	}
	for _, severity := range []model.Severity{model.SeverityFatal, model.SeverityWarning} {
		items, err := s.list(ctx, agencyCode, key, severity, active[severity])
		if err != nil {
			return nil, err
		}
		if severity == model.SeverityFatal {
			resp.Errors = items
		} else {
			resp.Warnings = items
		}
	}
	return resp, nil
}

func (s *Service) list(ctx context.Context, agencyCode string, key fileKey, severity model.Severity, rules []model.RuleSQL) ([]model.RuleSettingItem, error) {
	var settings []model.RuleSetting
	if agencyCode != "" {
		agency := agencyCode
		var err error
		settings, err = s.store.RuleSettings(ctx, &agency, key.fileType, key.targetPtr(), severity)
		if err != nil {
			return nil, err
		}
	}
	if len(settings) == 0 {
		var err error
		settings, err = s.store.RuleSettings(ctx, nil, key.fileType, key.targetPtr(), severity)
		if err != nil {
			return nil, err
		}
	}

	byLabel := make(map[string]model.RuleSQL, len(rules))
	for _, r := range rules {
		byLabel[r.RuleLabel] = r
	}

	items := make([]model.RuleSettingItem, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	last := 0
	for _, st := range settings {
		r, ok := byLabel[st.RuleLabel]
		if !ok || seen[st.RuleLabel] {
			continue
		}
		seen[st.RuleLabel] = true
		items = append(items, model.RuleSettingItem{
			Label:        st.RuleLabel,
			Description:  r.ErrorMessage,
			Significance: st.Priority,
			Impact:       st.Impact,
		})
		if st.Priority > last {
			last = st.Priority
		}
	}

	// Active rules without a stored setting go last, by label.
	var missing []model.RuleSQL
	for _, r := range rules {
		if !seen[r.RuleLabel] {
			missing = append(missing, r)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].RuleLabel < missing[j].RuleLabel })
	for _, r := range missing {
		last++
		items = append(items, model.RuleSettingItem{
			Label:        r.RuleLabel,
			Description:  r.ErrorMessage,
			Significance: last,
			Impact:       model.ImpactHigh,
		})
	}
	return items, nil
}

// Save replaces the agency's settings for a file. Each list must name
// exactly the active rules of its severity; priorities follow list order.
func (s *Service) Save(ctx context.Context, req model.SaveRuleSettingsRequest) error {
	if strings.TrimSpace(req.AgencyCode) == "" {
		return errors.ValidationError{Field: "agency_code", Value: req.AgencyCode, Message: "is required"}
	}
	key, err := lookupFile(req.File)
	if err != nil {
		return err
	}
	active, err := s.activeRules(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load rules for %s: %w", req.File, err)
	}

	submitted := map[model.Severity][]model.RuleSettingItem{
		model.SeverityFatal:   req.Errors,
		model.SeverityWarning: req.Warnings,
	}
	rows := make(map[model.Severity][]model.RuleSetting, len(submitted))
	for _, severity := range []model.Severity{model.SeverityFatal, model.SeverityWarning} {
		items := submitted[severity]
		if err := checkLabels(severity, items, active[severity]); err != nil {
			return err
		}
		for i, item := range items {
			impact := item.Impact
			if impact == "" {
				impact = model.ImpactHigh
			}
			if !impact.Valid() {
				return errors.ValidationError{Field: "impact", Value: item.Impact, Message: "must be low, medium or high"}
			}
			rows[severity] = append(rows[severity], model.RuleSetting{
				RuleLabel:      item.Label,
				FileType:       key.fileType,
				TargetFileType: key.targetPtr(),
				Severity:       severity,
				Priority:       i + 1,
				Impact:         impact,
			})
		}
	}

	err = s.store.InTx(ctx, func(ctx context.Context) error {
		for _, severity := range []model.Severity{model.SeverityFatal, model.SeverityWarning} {
			if err := s.store.ReplaceRuleSettings(ctx, req.AgencyCode, key.fileType, key.targetPtr(), severity, rows[severity]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save rule settings: %w", err)
	}

	s.log.Info().Str("agency_code", req.AgencyCode).Str("file", req.File).
		Int("errors", len(req.Errors)).Int("warnings", len(req.Warnings)).
		Msg("Rule settings saved")
	return nil
}

func checkLabels(severity model.Severity, items []model.RuleSettingItem, rules []model.RuleSQL) error {
	expected := make(map[string]bool, len(rules))
	for _, r := range rules {
		expected[r.RuleLabel] = true
	}

	field := "errors"
	if severity == model.SeverityWarning {
		field = "warnings"
	}

	got := make(map[string]bool, len(items))
	for _, item := range items {
		if got[item.Label] {
			return errors.ValidationError{Field: field, Value: item.Label, Message: "rule listed more than once"}
		}
		if !expected[item.Label] {
			return errors.ValidationError{Field: field, Value: item.Label, Message: "not an active rule for this file"}
		}
		got[item.Label] = true
	}
	if len(got) != len(expected) {
		var missing []string
		for label := range expected {
			if !got[label] {
				missing = append(missing, label)
			}
		}
		sort.Strings(missing)
		return errors.ValidationError{Field: field, Value: strings.Join(missing, ", "), Message: "every active rule must be listed"}
	}
	return nil
}
