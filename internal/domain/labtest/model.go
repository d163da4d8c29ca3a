package labtest

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Attachment references a file kept alongside a record. The core stores it
// verbatim and never interprets it.
type Attachment struct {
	FileName string    `json:"fileName"`
	FilePath string    `json:"filePath"`
	ID       uuid.UUID `json:"id"`
	Type     string    `json:"type"`
}

// Record is one blood-test event: a day, an optional event label and a
// sparse set of metric values. Two records are the same record iff their
// IDs match.
//
// The event label and its derived tags are only changed together through
// UpdateEvent. Values are only changed through SetValue and RemoveValue, so
// an absent metric is never stored as a sentinel.
type Record struct {
	ID          uuid.UUID
	Date        time.Time
	Notes       *string
	Attachments []Attachment

	event  string
	tags   EventTag
	values map[MetricKey]float64
}

// RecordOption customises NewRecord.
type RecordOption func(*Record)

// WithID sets an explicit identifier instead of generating one.
func WithID(id uuid.UUID) RecordOption {
	return func(r *Record) { r.ID = id }
}

// WithNotes attaches free-text notes.
func WithNotes(notes string) RecordOption {
	return func(r *Record) { r.Notes = &notes }
}

// WithAttachments attaches file references.
func WithAttachments(a ...Attachment) RecordOption {
	return func(r *Record) { r.Attachments = append([]Attachment(nil), a...) }
}

// NewRecord builds a record with a fresh ID and tags derived from event.
// Non-finite values are dropped.
func NewRecord(date time.Time, event string, values map[MetricKey]float64, opts ...RecordOption) *Record {
	r := &Record{
		ID:     uuid.New(),
		Date:   date,
		event:  event,
		tags:   ParseEventTag(event),
		values: make(map[MetricKey]float64, len(values)),
	}
	for k, v := range values {
		if isFinite(v) {
			r.values[k] = v
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Event returns the free-text label.
func (r *Record) Event() string { return r.event }

// Tags returns the structured reading of the event label.
func (r *Record) Tags() EventTag { return r.tags }

// UpdateEvent replaces the label and re-derives the tags.
func (r *Record) UpdateEvent(event string) {
	r.event = event
	r.tags = ParseEventTag(event)
}

// Value returns the measured value of key, if present.
func (r *Record) Value(key MetricKey) (float64, bool) {
	v, ok := r.values[key]
	return v, ok
}

// SetValue stores a measurement. Any finite number is accepted; reference
// ranges are advisory and not enforced here.
func (r *Record) SetValue(key MetricKey, v float64) error {
	if _, ok := LookupByKey(key); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMetric, key)
	}
	if !isFinite(v) {
		return fmt.Errorf("%w: %s=%v", ErrInvalidValue, key, v)
	}
	if r.values == nil {
		r.values = make(map[MetricKey]float64)
	}
	r.values[key] = v
	return nil
}

// RemoveValue marks key as not measured.
func (r *Record) RemoveValue(key MetricKey) {
	delete(r.values, key)
}

// Values returns a copy of the measured values.
func (r *Record) Values() map[MetricKey]float64 {
	out := make(map[MetricKey]float64, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// HasValues reports whether at least one metric was measured.
func (r *Record) HasValues() bool { return len(r.values) > 0 }

// PresentKeys lists measured catalog metrics in catalog order. Keys that are
// not in the catalog are kept in storage but not listed.
func (r *Record) PresentKeys() []MetricKey {
	keys := make([]MetricKey, 0, len(r.values))
	for k := range r.values {
		if catalogRank(k) >= 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return catalogRank(keys[i]) < catalogRank(keys[j]) })
	return keys
}

// KeyMetricsSummary renders the headline metrics, e.g.
// "WBC: 5.6 | NEUT#: -- | HGB: 120 | PLT: 200".
func (r *Record) KeyMetricsSummary() string {
	parts := make([]string, 0, len(keyMetrics))
	for _, def := range KeyMetrics() {
		if v, ok := r.values[def.Key]; ok {
			parts = append(parts, def.ShortName+": "+FormatValue(v))
		} else {
			parts = append(parts, def.ShortName+": --")
		}
	}
	return strings.Join(parts, " | ")
}

// Equal reports identity equality.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.ID == o.ID
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	c.values = r.Values()
	c.tags = ParseEventTag(r.event)
	if r.Notes != nil {
		n := *r.Notes
		c.Notes = &n
	}
	if r.Attachments != nil {
		c.Attachments = append([]Attachment(nil), r.Attachments...)
	}
	return &c
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ---------------------------------------------------------------------------
// Persisted form
// ---------------------------------------------------------------------------

// recordJSON fields are declared in key order so the encoder emits sorted
// keys.
type recordJSON struct {
	Attachments []Attachment          `json:"attachments"`
	Date        string                `json:"date"`
	Event       string                `json:"event"`
	ID          uuid.UUID             `json:"id"`
	Notes       *string               `json:"notes"`
	Tags        EventTag              `json:"tags"`
	Values      map[MetricKey]float64 `json:"values"`
}

// MarshalJSON writes the persisted record shape with a day-only date.
func (r *Record) MarshalJSON() ([]byte, error) {
	values := r.values
	if values == nil {
		values = map[MetricKey]float64{}
	}
	tags := r.tags
	if tags.RawTokens == nil {
		tags.RawTokens = []string{}
	}
	return json.Marshal(recordJSON{
		Attachments: r.Attachments,
		Date:        r.Date.Format(DateLayout),
		Event:       r.event,
		ID:          r.ID,
		Notes:       r.Notes,
		Tags:        tags,
		Values:      values,
	})
}

// EncodeRecords renders a collection in the persisted format: a
// pretty-printed JSON array with sorted keys.
func EncodeRecords(records []*Record) ([]byte, error) {
	if records == nil {
		records = []*Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	return data, nil
}

// DecodeRecords parses a persisted collection. Dates are read as calendar
// days in loc. Tags are re-derived from each event label rather than trusted
// from disk.
func DecodeRecords(data []byte, loc *time.Location) ([]*Record, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var raw []recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	records := make([]*Record, 0, len(raw))
	for i, rj := range raw {
		if rj.ID == uuid.Nil {
			return nil, fmt.Errorf("%w: record %d has no id", ErrCorruptStore, i+1)
		}
		date, err := time.ParseInLocation(DateLayout, rj.Date, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: record %s has invalid date %q", ErrCorruptStore, rj.ID, rj.Date)
		}
		r := &Record{
			ID:          rj.ID,
			Date:        date,
			Notes:       rj.Notes,
			Attachments: rj.Attachments,
			event:       rj.Event,
			tags:        ParseEventTag(rj.Event),
			values:      make(map[MetricKey]float64, len(rj.Values)),
		}
		for k, v := range rj.Values {
			r.values[k] = v
		}
		records = append(records, r)
	}
	return records, nil
}
