package rules

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"data-act-broker/internal/model"
	"data-act-broker/internal/schema"
	"data-act-broker/pkg/errors"

	"github.com/rs/zerolog"
)

const submissionPlaceholder = "{submission_id}"

// Querier runs rule SQL against the staging tables.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Store reads rules and their ordering settings.
type Store interface {
	ActiveRules(ctx context.Context, fileType string, target *string) ([]model.RuleSQL, error)
	RuleSettings(ctx context.Context, agencyCode *string, fileType string, target *string, severity model.Severity) ([]model.RuleSetting, error)
}

// Finding is one row returned by a rule query.
type Finding struct {
	Rule           model.RuleSQL
	RowNumber      int64
	FieldName      string
	ValueProvided  string
	Expected       string
	Difference     string
	UniqueID       string
	RuleLabel      string
	Severity       model.Severity
	SourceFileType string
	TargetFileType string
}

// Emit receives findings in the order the rule SQL returns them.
type Emit func(Finding) error

type Engine struct {
	db       Querier
	store    Store
	registry *schema.Registry
	log      zerolog.Logger
}

func NewEngine(db Querier, store Store, registry *schema.Registry, log zerolog.Logger) *Engine {
	return &Engine{
		db:       db,
		store:    store,
		registry: registry,
		log:      log,
	}
}

// RunSingleFile runs the active single-file rules of a file type. A rule
// whose SQL fails is logged and skipped.
func (e *Engine) RunSingleFile(ctx context.Context, sub *model.Submission, fileType string, emit Emit) error {
	rules, err := e.store.ActiveRules(ctx, fileType, nil)
	if err != nil {
		return fmt.Errorf("failed to load rules for file %s: %w", fileType, err)
	}
	ordered, err := e.order(ctx, sub, fileType, nil, rules)
	if err != nil {
		return err
	}

	for _, r := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := e.run(ctx, sub.ID, r, fileType, "", emit)
		if err == nil {
			continue
		}
		var emitErr *emitError
		if errors.As(err, &emitErr) {
			return emitErr.err
		}
		e.log.Error().Err(err).
			Str("rule", r.RuleLabel).
			Str("file_type", fileType).
			Int64("submission_id", sub.ID).
			Msg("Rule failed, continuing with remaining rules")
	}
	return nil
}

// CrossPairs returns the ordered pairs of the given file types that have at
// least one active cross-file rule.
func (e *Engine) CrossPairs(ctx context.Context, fileTypes []string) ([]Pair, error) {
	var pairs []Pair
	for i := range fileTypes {
		for j := i + 1; j < len(fileTypes); j++ {
			pair, err := NewPair(e.registry, fileTypes[i], fileTypes[j])
			if err != nil {
				return nil, err
			}
			rules, err := e.crossRules(ctx, pair)
			if err != nil {
				return nil, err
			}
			if len(rules) > 0 {
				pairs = append(pairs, pair)
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].Source.Order != pairs[j].Source.Order {
			return pairs[i].Source.Order < pairs[j].Source.Order
		}
		return pairs[i].Target.Order < pairs[j].Target.Order
	})
	return pairs, nil
}

func (e *Engine) crossRules(ctx context.Context, pair Pair) ([]model.RuleSQL, error) {
	forward, err := e.store.ActiveRules(ctx, pair.Source.Name, &pair.Target.Name)
	if err != nil {
		return nil, err
	}
	backward, err := e.store.ActiveRules(ctx, pair.Target.Name, &pair.Source.Name)
	if err != nil {
		return nil, err
	}
	return append(forward, backward...), nil
}

// RunCrossFile runs every cross-file rule of a pair. Any rule failure is a
// job error and stops the run.
func (e *Engine) RunCrossFile(ctx context.Context, sub *model.Submission, pair Pair, emit Emit) error {
	rules, err := e.crossRules(ctx, pair)
	if err != nil {
		return errors.Wrap(errors.KindJob, err, "failed to load cross-file rules for "+pair.String())
	}
	target := pair.Target.Name
	ordered, err := e.order(ctx, sub, pair.Source.Name, &target, rules)
	if err != nil {
		return errors.Wrap(errors.KindJob, err, "failed to order cross-file rules")
	}

	for _, r := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.run(ctx, sub.ID, r, r.FileType, r.Target(), emit); err != nil {
			var emitErr *emitError
			if errors.As(err, &emitErr) {
				return emitErr.err
			}
			return errors.Wrap(errors.KindJob, err, "cross-file rule "+r.RuleLabel+" failed")
		}
	}
	return nil
}

// order sorts rules by the agency's priorities, falling back to the global
// defaults per severity, then by label.
func (e *Engine) order(ctx context.Context, sub *model.Submission, fileType string, target *string, rules []model.RuleSQL) ([]model.RuleSQL, error) {
	priority := make(map[string]int, len(rules))
	var agency *string
	if code := sub.AgencyCode(); code != "" {
		agency = &code
	}

	for _, severity := range []model.Severity{model.SeverityFatal, model.SeverityWarning} {
		settings, err := e.settings(ctx, agency, fileType, target, severity)
		if err != nil {
			return nil, err
		}
		for _, s := range settings {
			priority[s.RuleLabel] = s.Priority
		}
	}

	out := make([]model.RuleSQL, len(rules))
	copy(out, rules)
	rank := func(label string) int {
		if p, ok := priority[label]; ok {
			return p
		}
		return math.MaxInt32
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := rank(out[i].RuleLabel), rank(out[j].RuleLabel)
		if pi != pj {
			return pi < pj
		}
		return out[i].RuleLabel < out[j].RuleLabel
	})
	return out, nil
}

func (e *Engine) settings(ctx context.Context, agency *string, fileType string, target *string, severity model.Severity) ([]model.RuleSetting, error) {
	if agency != nil {
		rows, err := e.store.RuleSettings(ctx, agency, fileType, target, severity)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return rows, nil
		}
	}
	return e.store.RuleSettings(ctx, nil, fileType, target, severity)
}

type emitError struct {
	err error
}

func (e *emitError) Error() string { return e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }

// Render substitutes the submission id into rule SQL.
func Render(sqlText string, submissionID int64) string {
	return strings.ReplaceAll(sqlText, submissionPlaceholder, strconv.FormatInt(submissionID, 10))
}

func (e *Engine) run(ctx context.Context, submissionID int64, r model.RuleSQL, source, target string, emit Emit) error {
	rows, err := e.db.QueryContext(ctx, Render(r.SQLText, submissionID))
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	values := make([]sql.NullString, len(cols))
	dest := make([]interface{}, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		record := make(map[string]string, len(cols))
		for i, c := range cols {
			if values[i].Valid {
				record[strings.ToLower(c)] = values[i].String
			}
		}

		f, err := toFinding(r, source, target, record)
		if err != nil {
			return err
		}
		if err := emit(f); err != nil {
			return &emitError{err: err}
		}
	}
	return rows.Err()
}

func toFinding(r model.RuleSQL, source, target string, record map[string]string) (Finding, error) {
	f := Finding{
		Rule:           r,
		FieldName:      first(record, "field_name", "source_field_names"),
		ValueProvided:  record["value_provided"],
		Expected:       record["expected"],
		Difference:     record["difference"],
		UniqueID:       first(record, "unique_id", "display_tas", "afa_generated_unique"),
		RuleLabel:      r.RuleLabel,
		Severity:       r.Severity,
		SourceFileType: source,
		TargetFileType: target,
	}

	rowNumber := first(record, "row_number", "source_row_number")
	if rowNumber == "" {
		return f, fmt.Errorf("rule %s returned no row number", r.RuleLabel)
	}
	n, err := strconv.ParseInt(rowNumber, 10, 64)
	if err != nil {
		return f, fmt.Errorf("rule %s returned an invalid row number %q", r.RuleLabel, rowNumber)
	}
	f.RowNumber = n

	if label := record["original_label"]; label != "" {
		f.RuleLabel = label
	}
	if severity := model.Severity(record["severity"]); severity == model.SeverityFatal || severity == model.SeverityWarning {
		f.Severity = severity
	}
	if t := record["target_file_type"]; t != "" && target != "" {
		f.TargetFileType = t
	}
	return f, nil
}

func first(record map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := record[k]; ok && v != "" {
			return v
		}
	}
	return ""
}
