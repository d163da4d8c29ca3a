package labtest

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Reserved field names on lab sheets.
const (
	EventField = "EVENT"
	DateField  = "日期"
	NotesField = "备注"
)

// Markers that are dropped without being reported.
var ignoredFields = map[string]bool{
	"IGNORE": true,
	"忽略":     true,
}

// Field is one raw key/value pair from an import source.
type Field struct {
	Key   string
	Value string
}

// Fields is an ordered field mapping. Order matters: when a key repeats, the
// last occurrence wins.
type Fields []Field

// ParseOptions controls ParseFields.
type ParseOptions struct {
	// Now anchors year-less dates and the default date. Its location is the
	// calendar used for day boundaries. Zero means time.Now().
	Now time.Time
	// DefaultDate is used when no date field parses. Zero means Now's day.
	DefaultDate time.Time
	// StrictDates reports an unparseable date field in InvalidValues
	// instead of silently keeping DefaultDate.
	StrictDates bool
}

func (o ParseOptions) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

// ParseInfo is the outcome of parsing one field mapping.
type ParseInfo struct {
	Record           *Record  `json:"record"`
	UnrecognizedKeys []string `json:"unrecognized_keys"`
	InvalidValues    []string `json:"invalid_values"`
}

// Usable reports whether at least one metric value was parsed. A mapping that
// yields none is a parse failure even when no field was rejected.
func (p *ParseInfo) Usable() bool {
	return p.Record != nil && p.Record.HasValues()
}

// ParseFields turns a lab-sheet field mapping into a record plus
// diagnostics. Field names are trimmed and resolved against the reserved
// names and the metric catalog. Blank values and the "-" placeholder mean
// "not measured" and are skipped.
func ParseFields(fields Fields, opts ParseOptions) *ParseInfo {
	now := opts.now()
	loc := now.Location()
	date := StartOfDay(now, loc)
	if !opts.DefaultDate.IsZero() {
		date = StartOfDay(opts.DefaultDate, loc)
	}

	info := &ParseInfo{UnrecognizedKeys: []string{}, InvalidValues: []string{}}
	values := make(map[MetricKey]float64)
	var event string
	var notes *string

	for _, f := range fields {
		key := strings.TrimSpace(f.Key)
		value := strings.TrimSpace(f.Value)
		if value == "" || value == "-" {
			continue
		}

		switch {
		case key == EventField:
			event = value
		case key == DateField:
			if d, ok := ParseDate(value, now); ok {
				date = d
			} else if opts.StrictDates {
				info.InvalidValues = append(info.InvalidValues, key+"="+value)
			}
		case key == NotesField:
			n := value
			notes = &n
		case ignoredFields[key]:
			// dropped
		default:
			def, ok := LookupByDisplayName(key)
			if !ok {
				info.UnrecognizedKeys = append(info.UnrecognizedKeys, key)
				continue
			}
			v, ok := ParseNumber(value)
			if !ok {
				info.InvalidValues = append(info.InvalidValues, key+"="+value)
				continue
			}
			values[def.Key] = v
		}
	}

	rec := NewRecord(date, event, values)
	rec.Notes = notes
	info.Record = rec
	return info
}

// ParseNumber reads a plain, locale-invariant decimal. NaN, infinities, hex
// floats and thousands separators are rejected.
func ParseNumber(s string) (float64, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	v, _ := d.Float64()
	if !isFinite(v) {
		return 0, false
	}
	return v, true
}
