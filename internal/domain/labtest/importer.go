package labtest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ImportEntry is one field mapping read from an import source, with its
// 1-based position. Problem is set when the entry is structurally unusable.
type ImportEntry struct {
	Index   int
	Fields  Fields
	Problem string
}

// DecodeImport reads an import payload: a single JSON object or an array of
// objects, each a flat mapping of field name to string. Key order inside
// each object is preserved. Numbers, booleans and null are taken as their
// literal text; nested values and non-object array elements are reported on
// the entry rather than failing the whole payload. Anything else, including
// malformed JSON, is ErrDecode.
func DecodeImport(raw []byte) ([]ImportEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, decodeError(err)
	}

	var entries []ImportEntry
	switch tok {
	case json.Delim('{'):
		e, err := readObject(dec)
		if err != nil {
			return nil, decodeError(err)
		}
		e.Index = 1
		entries = append(entries, e)
	case json.Delim('['):
		for i := 1; dec.More(); i++ {
			e, err := readArrayElement(dec)
			if err != nil {
				return nil, decodeError(err)
			}
			e.Index = i
			entries = append(entries, e)
		}
		if _, err := dec.Token(); err != nil {
			return nil, decodeError(err)
		}
	default:
		return nil, ErrDecode
	}

	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after payload", ErrDecode)
	}
	return entries, nil
}

func decodeError(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected end of input", ErrDecode)
	}
	return fmt.Errorf("%w: %v", ErrDecode, err)
}

func readArrayElement(dec *json.Decoder) (ImportEntry, error) {
	tok, err := dec.Token()
	if err != nil {
		return ImportEntry{}, err
	}
	switch tok {
	case json.Delim('{'):
		return readObject(dec)
	case json.Delim('['):
		if err := skipNested(dec); err != nil {
			return ImportEntry{}, err
		}
		return ImportEntry{Problem: "entry is an array, not an object"}, nil
	default:
		return ImportEntry{Problem: "entry is not an object"}, nil
	}
}

// readObject consumes the members of an object whose opening brace has
// already been read, through its closing brace.
func readObject(dec *json.Decoder) (ImportEntry, error) {
	e := ImportEntry{Fields: Fields{}}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return e, err
		}
		key, _ := keyTok.(string)

		valTok, err := dec.Token()
		if err != nil {
			return e, err
		}
		switch v := valTok.(type) {
		case string:
			e.Fields = append(e.Fields, Field{Key: key, Value: v})
		case json.Number:
			e.Fields = append(e.Fields, Field{Key: key, Value: v.String()})
		case bool:
			e.Fields = append(e.Fields, Field{Key: key, Value: strconv.FormatBool(v)})
		case nil:
			e.Fields = append(e.Fields, Field{Key: key, Value: ""})
		case json.Delim:
			if err := skipNested(dec); err != nil {
				return e, err
			}
			if e.Problem == "" {
				e.Problem = fmt.Sprintf("field %q holds a nested value", key)
			}
		}
	}
	_, err := dec.Token()
	return e, err
}

// skipNested consumes tokens until the container just opened is closed.
func skipNested(dec *json.Decoder) error {
	for depth := 1; depth > 0; {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Planning
// ---------------------------------------------------------------------------

// ParseFailure explains why an entry produced no record.
type ParseFailure struct {
	Index   int      `json:"index"`
	Reason  string   `json:"reason"`
	Details []string `json:"details"`
}

// ImportResult classifies parsed candidates against stored records.
// DuplicateRecords[i] collides with ExistingRecords[i] on the same calendar
// day. Warnings carry diagnostics for entries that still produced a record.
type ImportResult struct {
	NewRecords       []*Record      `json:"new_records"`
	DuplicateRecords []*Record      `json:"duplicate_records"`
	ExistingRecords  []*Record      `json:"existing_records"`
	Failures         []ParseFailure `json:"failures"`
	Warnings         []ParseFailure `json:"warnings"`
}

// TotalParsed counts candidates that produced a record.
func (r *ImportResult) TotalParsed() int { return len(r.NewRecords) + len(r.DuplicateRecords) }

// HasDuplicates reports whether any candidate collides with a stored record.
func (r *ImportResult) HasDuplicates() bool { return len(r.DuplicateRecords) > 0 }

// FailedCount counts entries that produced no record.
func (r *ImportResult) FailedCount() int { return len(r.Failures) }

// PlanImport decodes raw and classifies every entry against existing. It
// never modifies existing.
func PlanImport(raw []byte, existing []*Record, opts ParseOptions) (*ImportResult, error) {
	entries, err := DecodeImport(raw)
	if err != nil {
		return nil, err
	}
	return PlanEntries(entries, existing, opts), nil
}

// PlanImportFields classifies rows read from a non-JSON source such as a
// spreadsheet. Row positions are 1-based.
func PlanImportFields(rows []Fields, existing []*Record, opts ParseOptions) *ImportResult {
	entries := make([]ImportEntry, len(rows))
	for i, f := range rows {
		entries[i] = ImportEntry{Index: i + 1, Fields: f}
	}
	return PlanEntries(entries, existing, opts)
}

// PlanEntries parses each entry and classifies the usable ones as new or as
// a same-day duplicate of a stored record. When several stored records share
// the day, the first in existing's order is the pairing.
func PlanEntries(entries []ImportEntry, existing []*Record, opts ParseOptions) *ImportResult {
	opts.Now = opts.now()
	loc := opts.Now.Location()

	result := &ImportResult{
		NewRecords:       []*Record{},
		DuplicateRecords: []*Record{},
		ExistingRecords:  []*Record{},
		Failures:         []ParseFailure{},
		Warnings:         []ParseFailure{},
	}

	for _, e := range entries {
		reason := fmt.Sprintf("record %d could not be parsed", e.Index)
		if e.Problem != "" {
			result.Failures = append(result.Failures, ParseFailure{Index: e.Index, Reason: reason, Details: []string{e.Problem}})
			continue
		}

		info := ParseFields(e.Fields, opts)
		if !info.Usable() {
			result.Failures = append(result.Failures, ParseFailure{Index: e.Index, Reason: reason, Details: failureDetails(info)})
			continue
		}
		if len(info.UnrecognizedKeys) > 0 || len(info.InvalidValues) > 0 {
			result.Warnings = append(result.Warnings, ParseFailure{
				Index:   e.Index,
				Reason:  fmt.Sprintf("record %d was parsed with skipped fields", e.Index),
				Details: diagnosticDetails(info),
			})
		}

		candidate := info.Record
		if match := firstSameDay(existing, candidate, loc); match != nil {
			result.DuplicateRecords = append(result.DuplicateRecords, candidate)
			result.ExistingRecords = append(result.ExistingRecords, match)
		} else {
			result.NewRecords = append(result.NewRecords, candidate)
		}
	}
	return result
}

func firstSameDay(existing []*Record, candidate *Record, loc *time.Location) *Record {
	for _, r := range existing {
		if SameDay(r.Date, candidate.Date, loc) {
			return r
		}
	}
	return nil
}

func diagnosticDetails(info *ParseInfo) []string {
	var details []string
	if len(info.UnrecognizedKeys) > 0 {
		details = append(details, "unrecognized fields: "+strings.Join(info.UnrecognizedKeys, ", "))
	}
	if len(info.InvalidValues) > 0 {
		details = append(details, "invalid values: "+strings.Join(info.InvalidValues, ", "))
	}
	return details
}

func failureDetails(info *ParseInfo) []string {
	details := diagnosticDetails(info)
	if len(details) == 0 {
		details = append(details, "no usable metric found")
	}
	return details
}

// ---------------------------------------------------------------------------
// Merge policies
// ---------------------------------------------------------------------------

// MergePolicy is the caller's decision for same-day collisions.
type MergePolicy string

const (
	// PolicyReplace deletes stored records on each duplicate's day, then
	// inserts every candidate.
	PolicyReplace MergePolicy = "replace"
	// PolicySkip inserts only candidates without a collision.
	PolicySkip MergePolicy = "skip"
	// PolicyAuto inserts new candidates when there are any, and otherwise
	// replaces with the duplicates.
	PolicyAuto MergePolicy = "auto"
)

// ParseMergePolicy validates a policy name.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch p := MergePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyReplace, PolicySkip, PolicyAuto:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
}

// ImportSelection is the argument set for Service.ApplyImport.
type ImportSelection struct {
	Records             []*Record
	ReplaceDuplicates   bool
	DuplicatesToReplace []*Record
}

// Selection resolves policy against the plan.
func (r *ImportResult) Selection(policy MergePolicy) ImportSelection {
	switch policy {
	case PolicyReplace:
		all := make([]*Record, 0, r.TotalParsed())
		all = append(all, r.NewRecords...)
		all = append(all, r.DuplicateRecords...)
		return ImportSelection{Records: all, ReplaceDuplicates: true, DuplicatesToReplace: r.DuplicateRecords}
	case PolicyAuto:
		if len(r.NewRecords) == 0 && len(r.DuplicateRecords) > 0 {
			return ImportSelection{Records: r.DuplicateRecords, ReplaceDuplicates: true, DuplicatesToReplace: r.DuplicateRecords}
		}
		return ImportSelection{Records: r.NewRecords}
	default:
		return ImportSelection{Records: r.NewRecords}
	}
}
