package labtest

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewRecord_DropsNonFiniteValues(t *testing.T) {
	r := NewRecord(day(2024, 3, 1), "FOLFOX C1", map[MetricKey]float64{
		MetricWBC: 5.2,
		MetricHGB: math.NaN(),
		MetricPLT: math.Inf(1),
	})
	if r.ID == uuid.Nil {
		t.Error("expected a generated id")
	}
	if _, ok := r.Value(MetricHGB); ok {
		t.Error("NaN must not be stored")
	}
	if _, ok := r.Value(MetricPLT); ok {
		t.Error("Inf must not be stored")
	}
	if len(r.Values()) != 1 {
		t.Errorf("expected one value, got %v", r.Values())
	}
}

func TestRecord_SetValue(t *testing.T) {
	r := NewRecord(day(2024, 3, 1), "", nil)

	if err := r.SetValue(MetricALT, 35); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.SetValue("glucose", 5); !errors.Is(err, ErrUnknownMetric) {
		t.Errorf("expected ErrUnknownMetric, got %v", err)
	}
	if err := r.SetValue(MetricALT, math.NaN()); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue, got %v", err)
	}
	if v, _ := r.Value(MetricALT); v != 35 {
		t.Errorf("rejected update must keep the old value, got %v", v)
	}

	r.RemoveValue(MetricALT)
	if r.HasValues() {
		t.Error("expected no values after removal")
	}
}

func TestRecord_UpdateEventRederivesTags(t *testing.T) {
	r := NewRecord(day(2024, 3, 1), "FOLFOX C1", nil)
	r.UpdateEvent("XELOX C2 D3")
	tags := r.Tags()
	if tags.Scheme == nil || *tags.Scheme != "XELOX" {
		t.Errorf("expected XELOX scheme, got %v", tags.Scheme)
	}
	if tags.Cycle == nil || *tags.Cycle != 2 {
		t.Errorf("expected cycle 2, got %v", tags.Cycle)
	}
}

func TestRecord_PresentKeysInCatalogOrder(t *testing.T) {
	r := NewRecord(day(2024, 3, 1), "", map[MetricKey]float64{
		MetricCEA: 3.1,
		MetricWBC: 5.2,
		MetricNLR: 2.1,
		"retired": 1,
		MetricALB: 41,
	})
	got := r.PresentKeys()
	want := []MetricKey{MetricNLR, MetricWBC, MetricALB, MetricCEA}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("key %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRecord_KeyMetricsSummary(t *testing.T) {
	r := NewRecord(day(2024, 3, 1), "", map[MetricKey]float64{
		MetricWBC: 5.6,
		MetricHGB: 120,
		MetricPLT: 200,
	})
	want := "WBC: 5.60 | NEUT#: -- | HGB: 120 | PLT: 200"
	if got := r.KeyMetricsSummary(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRecord_CloneIsDeep(t *testing.T) {
	r := NewRecord(day(2024, 3, 1), "FOLFOX", map[MetricKey]float64{MetricWBC: 5},
		WithNotes("n"), WithAttachments(Attachment{FileName: "a.jpg"}))
	c := r.Clone()

	if !c.Equal(r) {
		t.Error("clone must keep the id")
	}
	_ = c.SetValue(MetricWBC, 9)
	*c.Notes = "changed"
	c.Attachments[0].FileName = "b.jpg"

	if v, _ := r.Value(MetricWBC); v != 5 {
		t.Error("clone shares values with the original")
	}
	if *r.Notes != "n" {
		t.Error("clone shares notes with the original")
	}
	if r.Attachments[0].FileName != "a.jpg" {
		t.Error("clone shares attachments with the original")
	}
}

func TestRecord_EqualByID(t *testing.T) {
	id := uuid.New()
	a := NewRecord(day(2024, 3, 1), "a", nil, WithID(id))
	b := NewRecord(day(2025, 1, 1), "b", nil, WithID(id))
	if !a.Equal(b) {
		t.Error("records with the same id are the same record")
	}
	if a.Equal(NewRecord(day(2024, 3, 1), "a", nil)) {
		t.Error("records with different ids differ")
	}
}

func TestEncodeDecodeRecords(t *testing.T) {
	r := NewRecord(day(2024, 3, 1), "FOLFOX C1 D1", map[MetricKey]float64{MetricWBC: 5.2, MetricCA199: 12},
		WithNotes("空腹"),
		WithAttachments(Attachment{FileName: "report.jpg", FilePath: "attachments/report.jpg", ID: uuid.New(), Type: "image"}))

	data, err := EncodeRecords([]*Record{r})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, `"date": "2024-03-01"`) {
		t.Errorf("expected a day-only date, got %s", text)
	}
	// Top-level record keys sit at four spaces of indentation.
	order := []string{"attachments", "date", "event", "id", "notes", "tags", "values"}
	last := -1
	for _, key := range order {
		i := strings.Index(text, "\n    \""+key+"\"")
		if i < 0 || i < last {
			t.Errorf("key %s is out of sorted order", key)
		}
		last = i
	}

	back, err := DecodeRecords(data, testNow.Location())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(back) != 1 {
		t.Fatalf("expected one record, got %d", len(back))
	}
	got := back[0]
	if got.ID != r.ID || !got.Date.Equal(r.Date) || got.Event() != r.Event() {
		t.Errorf("round trip changed the record: %+v", got)
	}
	if v, _ := got.Value(MetricCA199); v != 12 {
		t.Errorf("ca199 = %v", v)
	}
	if got.Notes == nil || *got.Notes != "空腹" {
		t.Errorf("unexpected notes %v", got.Notes)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].FileName != "report.jpg" {
		t.Errorf("unexpected attachments %+v", got.Attachments)
	}
	if !got.Tags().Equal(r.Tags()) {
		t.Error("tags differ after round trip")
	}
}

func TestEncodeRecords_Empty(t *testing.T) {
	data, err := EncodeRecords(nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("expected [], got %s", data)
	}
}

func TestDecodeRecords_Empty(t *testing.T) {
	records, err := DecodeRecords([]byte("  \n"), testNow.Location())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestDecodeRecords_RederivesTags(t *testing.T) {
	data := `[{"date":"2024-03-01","event":"XELOX C2","id":"` + uuid.NewString() + `",
		"tags":{"scheme":"WRONG","cycle":9,"day":null,"rawTokens":["x"]},"values":{"wbc":4}}]`
	records, err := DecodeRecords([]byte(data), testNow.Location())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tags := records[0].Tags()
	if tags.Scheme == nil || *tags.Scheme != "XELOX" || tags.Cycle == nil || *tags.Cycle != 2 {
		t.Errorf("expected tags derived from the event, got %s", tags.DisplayText())
	}
}

func TestDecodeRecords_Corrupt(t *testing.T) {
	cases := map[string]string{
		"not json":     `{"date":`,
		"missing id":   `[{"date":"2024-03-01","event":"","values":{}}]`,
		"invalid date": `[{"date":"03/01/2024","event":"","id":"` + uuid.NewString() + `","values":{}}]`,
	}
	for name, data := range cases {
		if _, err := DecodeRecords([]byte(data), testNow.Location()); !errors.Is(err, ErrCorruptStore) {
			t.Errorf("%s: expected ErrCorruptStore, got %v", name, err)
		}
	}
}
