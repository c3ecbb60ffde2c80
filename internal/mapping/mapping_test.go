package mapping

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

func mustParse(t *testing.T, s string) any {
	t.Helper()
	doc, err := ParseDocument([]byte(s))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func paths(doc any) []string {
	var out []string
	for e := range EnumeratePaths(doc) {
		out = append(out, e.Path)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// =============================================================================
// Documents
// =============================================================================

func TestParseDocument_PreservesOrder(t *testing.T) {
	doc := mustParse(t, `{"zeta":1,"alpha":{"m":true,"b":null},"mid":"x"}`)
	obj, ok := doc.(Object)
	if !ok {
		t.Fatalf("expected Object, got %T", doc)
	}
	if got := obj.Keys(); !equalStrings(got, []string{"zeta", "alpha", "mid"}) {
		t.Errorf("expected document key order, got %v", got)
	}

	out, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"zeta":1,"alpha":{"m":true,"b":null},"mid":"x"}` {
		t.Errorf("expected ordered output, got %s", out)
	}
}

func TestParseDocument_Errors(t *testing.T) {
	for _, in := range []string{``, `{"a":`, `{"a":1} {"b":2}`, `[1,2`} {
		if _, err := ParseDocument([]byte(in)); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestClassify(t *testing.T) {
	doc := mustParse(t, `{"s":"x","n":1.5,"b":false,"a":[],"o":{},"z":null}`).(Object)
	want := map[string]domain.ValueType{
		"s": domain.ValueString,
		"n": domain.ValueNumber,
		"b": domain.ValueBoolean,
		"a": domain.ValueArray,
		"o": domain.ValueObject,
		"z": domain.ValueNull,
	}
	for key, vt := range want {
		v, _ := doc.Get(key)
		if got := Classify(v); got != vt {
			t.Errorf("%s: expected %s, got %s", key, vt, got)
		}
	}
}

// =============================================================================
// Paths
// =============================================================================

func TestEnumeratePaths(t *testing.T) {
	doc := mustParse(t, `{"a":{"b":[1,2]}}`)
	got := paths(doc)
	want := []string{"a", "a.b", "a.b[0]", "a.b[1]"}
	if !equalStrings(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	var depths []int
	for e := range EnumeratePaths(doc) {
		depths = append(depths, e.Depth)
	}
	if depths[0] != 1 || depths[3] != 3 {
		t.Errorf("unexpected depths %v", depths)
	}
}

func TestEnumeratePaths_RestartableAndStoppable(t *testing.T) {
	seq := EnumeratePaths(mustParse(t, `{"x":[{"y":1},{"y":2}],"z":true}`))

	first := 0
	for range seq {
		first++
	}
	second := 0
	for range seq {
		second++
	}
	if first != second || first != 6 {
		t.Errorf("expected 6 entries twice, got %d and %d", first, second)
	}

	taken := 0
	for range seq {
		taken++
		if taken == 2 {
			break
		}
	}
	if taken != 2 {
		t.Errorf("expected early stop at 2, got %d", taken)
	}
}

func TestEnumeratePaths_RootArrayAndScalars(t *testing.T) {
	if got := paths(mustParse(t, `[{"id":1}]`)); !equalStrings(got, []string{"[0]", "[0].id"}) {
		t.Errorf("unexpected root array paths %v", got)
	}
	if got := paths(mustParse(t, `42`)); len(got) != 0 {
		t.Errorf("expected no paths for scalar root, got %v", got)
	}
}

func TestLookupPath_RoundTrip(t *testing.T) {
	doc := mustParse(t, `{"data":{"items":[{"price":3,"tags":["a"]}],"odd.key":{"x":1}},"ok":true}`)
	for e := range EnumeratePaths(doc) {
		v, err := LookupPath(doc, e.Path)
		if err != nil {
			t.Errorf("lookup %s: %v", e.Path, err)
			continue
		}
		if Classify(v) != e.Type {
			t.Errorf("lookup %s: expected %s, got %s", e.Path, e.Type, Classify(v))
		}
	}

	if _, err := LookupPath(doc, `data["odd.key"].x`); err != nil {
		t.Errorf("expected quoted key lookup to work, got %v", err)
	}
	for _, bad := range []string{"missing", "data.items[5]", "ok.x", "data[", ""} {
		if _, err := LookupPath(doc, bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

// =============================================================================
// Widgets
// =============================================================================

func TestSuggestWidgets(t *testing.T) {
	tests := []struct {
		in   domain.ValueType
		want []WidgetKind
	}{
		{domain.ValueNumber, []WidgetKind{WidgetMetricCard, WidgetGauge, WidgetText}},
		{domain.ValueBoolean, []WidgetKind{WidgetStatusIndicator, WidgetText}},
		{domain.ValueArray, []WidgetKind{WidgetLineChart, WidgetBarChart, WidgetPieChart, WidgetTable, WidgetJSONViewer}},
		{domain.ValueNull, []WidgetKind{WidgetText}},
	}
	for _, tt := range tests {
		got := SuggestWidgets(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.in, tt.want, got)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: expected %v, got %v", tt.in, tt.want, got)
				break
			}
		}
	}
}

// =============================================================================
// Bind / Render
// =============================================================================

func TestBind_Validation(t *testing.T) {
	doc := mustParse(t, `{"count":5,"items":[1,2,3],"up":true}`)
	tests := []struct {
		name   string
		widget WidgetKind
		path   string
		cfg    domain.WidgetConfig
		field  string
	}{
		{"unknown widget", "radar", "count", domain.WidgetConfig{}, "widgetTypeId"},
		{"missing path", WidgetGauge, "nope", domain.WidgetConfig{}, "sourceFieldPath"},
		{"type mismatch", WidgetGauge, "up", domain.WidgetConfig{}, "widgetTypeId"},
		{"refresh too fast", WidgetGauge, "count", domain.WidgetConfig{RefreshIntervalMs: 500}, "config.refreshIntervalMs"},
		{"refresh too slow", WidgetGauge, "count", domain.WidgetConfig{RefreshIntervalMs: 3_600_001}, "config.refreshIntervalMs"},
		{"aggregation on scalar", WidgetMetricCard, "count", domain.WidgetConfig{Aggregation: "sum"}, "config.aggregation"},
		{"unknown aggregation", WidgetLineChart, "items", domain.WidgetConfig{Aggregation: "median"}, "config.aggregation"},
		{"bad filter", WidgetTable, "items", domain.WidgetConfig{Filter: "no operator"}, "config.filter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Bind(doc, tt.widget, tt.path, tt.cfg)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, verr.Field)
			}
		})
	}

	m, err := Bind(doc, WidgetLineChart, "items", domain.WidgetConfig{Aggregation: "SUM"})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if m.ValueType != domain.ValueArray || m.Config.RefreshIntervalMs != DefaultRefreshMs || m.Config.Aggregation != "sum" {
		t.Errorf("unexpected mapping %+v", m)
	}
}

func TestRender(t *testing.T) {
	doc := mustParse(t, `{"orders":[{"total":10,"status":"paid"},{"total":30,"status":"open"},{"total":20,"status":"paid"}],"latency":[5,15,10]}`)

	tests := []struct {
		path, agg, filter string
		want              any
	}{
		{"latency", "sum", "", 30.0},
		{"latency", "avg", "", 10.0},
		{"latency", "min", "", 5.0},
		{"latency", "max", "", 15.0},
		{"latency", "count", "", 3},
		{"orders", "count", "status == paid", 2},
		{"orders", "count", "total > 15", 2},
	}
	for _, tt := range tests {
		got, err := Render(doc, domain.FieldMapping{
			SourcePath: tt.path,
			Config:     domain.WidgetConfig{Aggregation: tt.agg, Filter: tt.filter},
		})
		if err != nil {
			t.Fatalf("render %s/%s: %v", tt.path, tt.agg, err)
		}
		if got != tt.want {
			t.Errorf("%s %s %q: expected %v, got %v", tt.path, tt.agg, tt.filter, tt.want, got)
		}
	}

	latest, _ := Render(doc, domain.FieldMapping{SourcePath: "latency", Config: domain.WidgetConfig{Aggregation: "latest"}})
	if n, _ := toFloat(latest); n != 10 {
		t.Errorf("expected latest 10, got %v", latest)
	}
}

// =============================================================================
// Studio
// =============================================================================

func TestStudio_ExportImportRoundTrip(t *testing.T) {
	s := NewStudio("conn-1")
	s.SetDocument(mustParse(t, `{"price":12.5,"history":[1,2,3],"healthy":true}`))

	if _, err := s.Bind(WidgetMetricCard, "price", domain.WidgetConfig{Title: "Price"}); err != nil {
		t.Fatalf("bind price: %v", err)
	}
	if _, err := s.Bind(WidgetLineChart, "history", domain.WidgetConfig{RefreshIntervalMs: 5000, Aggregation: "avg"}); err != nil {
		t.Fatalf("bind history: %v", err)
	}
	if _, err := s.Bind(WidgetStatusIndicator, "healthy", domain.WidgetConfig{}); err != nil {
		t.Fatalf("bind healthy: %v", err)
	}

	data, err := s.ExportAll()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var exp Export
	if err := json.Unmarshal(data, &exp); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if exp.APIID != "conn-1" || exp.ExportedAt.IsZero() || len(exp.Mappings) != 3 {
		t.Errorf("unexpected export metadata %+v", exp)
	}

	restored := NewStudio("conn-1")
	if err := restored.ImportAll(data); err != nil {
		t.Fatalf("import: %v", err)
	}
	before, after := s.List(), restored.List()
	if len(before) != len(after) {
		t.Fatalf("expected %d mappings, got %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("mapping %d: expected %+v, got %+v", i, before[i], after[i])
		}
	}
}

func TestStudio_ImportRejectsInvalid(t *testing.T) {
	s := NewStudio("conn-1")
	s.Bind(WidgetText, "x", domain.WidgetConfig{})

	bad := `{"apiId":"conn-1","mappings":[{"widgetTypeId":"gauge","sourceFieldPath":"a","valueType":"boolean","config":{}}]}`
	if err := s.ImportAll([]byte(bad)); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if len(s.List()) != 1 {
		t.Error("expected failed import to leave mappings unchanged")
	}
	if err := s.ImportAll([]byte(`not json`)); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error for bad json, got %v", err)
	}
}

func TestStudio_BindReplacesAndRemove(t *testing.T) {
	s := NewStudio("c")
	s.Bind(WidgetText, "title", domain.WidgetConfig{Title: "one"})
	s.Bind(WidgetText, "title", domain.WidgetConfig{Title: "two"})
	if got := s.List(); len(got) != 1 || got[0].Config.Title != "two" {
		t.Errorf("expected replaced mapping, got %+v", got)
	}
	if !s.Remove(WidgetText, "title") || s.Remove(WidgetText, "title") {
		t.Error("expected remove to succeed once")
	}
}

func TestManager_Observe(t *testing.T) {
	m := NewManager()
	if err := m.Observe("c1", []byte(`{"value":3}`)); err != nil {
		t.Fatalf("observe: %v", err)
	}
	s := m.Studio("c1")
	if _, err := s.Bind(WidgetGauge, "value", domain.WidgetConfig{}); err != nil {
		t.Errorf("expected bind against observed document, got %v", err)
	}
	if vals := s.RenderAll(); vals["gauge:value"] == nil {
		t.Errorf("expected rendered value, got %v", vals)
	}
	if err := m.Observe("c1", []byte(`<html>`)); err == nil {
		t.Error("expected parse error for non-JSON body")
	}
	m.Forget("c1")
	if m.Studio("c1").Document() != nil {
		t.Error("expected fresh studio after forget")
	}
}
