// Package schema holds the fixed GDELT 2.0 record layouts and the enum
// tables used to expand coded fields.
//
// Field lists follow the GDELT Event Codebook V2.0 and the GDELT 2.0 mentions
// table documentation. Both files are tab-delimited without a header row.
package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/yourorg/gdelt-ingest/internal/types"
)

// ErrCodeOutOfRange is returned when a coded enum value has no table entry.
var ErrCodeOutOfRange = errors.New("enum code out of range")

// ErrUnknownKind is returned for a record kind with no schema.
var ErrUnknownKind = errors.New("unknown record kind")

var eventFields = []string{
	"GlobalEventID",
	"Day",
	"MonthYear",
	"Year",
	"FractionDate",
	"Actor1Code",
	"Actor1Name",
	"Actor1CountryCode",
	"Actor1KnownGroupCode",
	"Actor1EthnicCode",
	"Actor1Religion1Code",
	"Actor1Religion2Code",
	"Actor1Type1Code",
	"Actor1Type2Code",
	"Actor1Type3Code",
	"Actor2Code",
	"Actor2Name",
	"Actor2CountryCode",
	"Actor2KnownGroupCode",
	"Actor2EthnicCode",
	"Actor2Religion1Code",
	"Actor2Religion2Code",
	"Actor2Type1Code",
	"Actor2Type2Code",
	"Actor2Type3Code",
	"IsRootEvent",
	"EventCode",
	"EventBaseCode",
	"EventRootCode",
	"QuadClass",
	"GoldsteinScale",
	"NumMentions",
	"NumSources",
	"NumArticles",
	"AvgTone",
	"Actor1Geo_Type",
	"Actor1Geo_Fullname",
	"Actor1Geo_CountryCode",
	"Actor1Geo_ADM1Code",
	"Actor1Geo_ADM2Code",
	"Actor1Geo_Lat",
	"Actor1Geo_Long",
	"Actor1Geo_FeatureID",
	"Actor2Geo_Type",
	"Actor2Geo_Fullname",
	"Actor2Geo_CountryCode",
	"Actor2Geo_ADM1Code",
	"Actor2Geo_ADM2Code",
	"Actor2Geo_Lat",
	"Actor2Geo_Long",
	"Actor2Geo_FeatureID",
	"ActionGeo_Type",
	"ActionGeo_Fullname",
	"ActionGeo_CountryCode",
	"ActionGeo_ADM1Code",
	"ActionGeo_ADM2Code",
	"ActionGeo_Lat",
	"ActionGeo_Long",
	"ActionGeo_FeatureID",
	"DATEADDED",
	"SOURCEURL",
}

var mentionFields = []string{
	"GlobalEventID",
	"EventTimeDate",
	"MentionTimeDate",
	"MentionType",
	"MentionSourceName",
	"MentionIdentifier",
	"SentenceID",
	"Actor1CharOffset",
	"Actor2CharOffset",
	"ActionCharOffset",
	"InRawText",
	"Confidence",
	"MentionDocLen",
	"MentionDocTone",
	"MentionDocTranslationInfo",
	"Extras",
}

// QuadClasses is the conflict/cooperation class table, indexed by QuadClass-1.
var QuadClasses = [4]string{
	"Verbal Cooperation",
	"Material Cooperation",
	"Verbal Conflict",
	"Material Conflict",
}

// MentionTypes is the mention source class table, indexed by MentionType-1.
var MentionTypes = [6]string{
	"WEB",
	"CITATIONONLY",
	"CORE",
	"DTIC",
	"JSTOR",
	"NONTEXTUALSOURCE",
}

// Schema describes one record kind: its columns, the coded column that is
// expanded, and where the expansion goes.
type Schema struct {
	Kind   types.Kind
	fields []string
	// CodeField holds a 1-based enum code; LabelField receives its label.
	CodeField  string
	LabelField string
	// DomainField names the column the derived SourceDomain is taken from.
	DomainField string
	labels      []string
}

var (
	eventSchema = Schema{
		Kind:        types.KindEvent,
		fields:      eventFields,
		CodeField:   "QuadClass",
		LabelField:  "QuadClassFull",
		DomainField: "SOURCEURL",
		labels:      QuadClasses[:],
	}
	mentionSchema = Schema{
		Kind:        types.KindMention,
		fields:      mentionFields,
		CodeField:   "MentionType",
		LabelField:  "MentionTypeFull",
		DomainField: "MentionSourceName",
		labels:      MentionTypes[:],
	}
)

// For returns the schema for a record kind.
func For(k types.Kind) (Schema, error) {
	switch k {
	case types.KindEvent:
		return eventSchema, nil
	case types.KindMention:
		return mentionSchema, nil
	default:
		return Schema{}, fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
}

// Fields returns a copy of the ordered column names.
func (s Schema) Fields() []string {
	out := make([]string, len(s.fields))
	copy(out, s.fields)
	return out
}

// Width is the number of columns in a row of this schema.
func (s Schema) Width() int { return len(s.fields) }

// Label expands a 1-based code into its table entry.
func (s Schema) Label(code int) (string, error) {
	if code < 1 || code > len(s.labels) {
		return "", fmt.Errorf("%s %d: %w (1..%d)", s.CodeField, code, ErrCodeOutOfRange, len(s.labels))
	}
	return s.labels[code-1], nil
}

// LabelFor parses the raw coded column value and expands it.
func (s Schema) LabelFor(raw string) (string, error) {
	code, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%s %q: %w", s.CodeField, raw, ErrCodeOutOfRange)
	}
	return s.Label(code)
}

// Record maps a row onto the schema's columns. Missing trailing columns are
// set to nil; extra columns are ignored.
func (s Schema) Record(row []string) map[string]any {
	rec := make(map[string]any, len(s.fields)+6)
	for i, name := range s.fields {
		if i < len(row) {
			rec[name] = row[i]
		} else {
			rec[name] = nil
		}
	}
	return rec
}
