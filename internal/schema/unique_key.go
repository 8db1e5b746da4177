package schema

import "strings"

const (
	UniqueKeyDisplayTAS = "display_tas"
	UniqueKeyAFA        = "afa_generated_unique"
)

// DisplayTAS renders the TAS components of a row the way agencies read them:
// ATA-AID-period-MAIN-SUB, where period is the availability type code or
// BPOA/EPOA. Blank components are skipped.
func DisplayTAS(row map[string]*string) string {
	get := func(k string) string {
		if v := row[k]; v != nil {
			return *v
		}
		return ""
	}

	period := get("availability_type_code")
	if period == "" {
		period = joinNonEmpty("/", get("beginning_period_of_availa"), get("ending_period_of_availabil"))
	}
	return joinNonEmpty("-",
		get("allocation_transfer_agency"),
		get("agency_identifier"),
		period,
		get("main_account_code"),
		get("sub_account_code"),
	)
}

// AFAGeneratedUnique builds the assistance transaction unique key. Blank
// components are rendered as -none-.
func AFAGeneratedUnique(row map[string]*string) string {
	parts := make([]string, 0, 5)
	for _, k := range []string{"awarding_sub_tier_agency_c", "fain", "uri", "assistance_listing_number", "award_modification_amendme"} {
		v := row[k]
		if v == nil || *v == "" {
			parts = append(parts, "-none-")
			continue
		}
		parts = append(parts, strings.ToUpper(*v))
	}
	return strings.Join(parts, "_")
}

// UniqueKey computes the synthetic unique key column for a file type, if it
// has one.
func (s *Schema) UniqueKey(row map[string]*string) (string, bool) {
	switch s.FileType.UniqueKey {
	case UniqueKeyDisplayTAS:
		return DisplayTAS(row), true
	case UniqueKeyAFA:
		return AFAGeneratedUnique(row), true
	}
	return "", false
}

// UniqueIDLabel formats the Unique ID column of a report row.
func (s *Schema) UniqueIDLabel(value string) string {
	if s.FileType.UniqueKey == UniqueKeyAFA {
		return "AssistanceTransactionUniqueKey: " + value
	}
	return "TAS: " + value
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
