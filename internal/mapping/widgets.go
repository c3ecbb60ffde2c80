package mapping

import (
	"slices"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

// WidgetKind identifies a dashboard widget type.
type WidgetKind string

const (
	WidgetMetricCard      WidgetKind = "metric-card"
	WidgetLineChart       WidgetKind = "line-chart"
	WidgetBarChart        WidgetKind = "bar-chart"
	WidgetPieChart        WidgetKind = "pie-chart"
	WidgetTable           WidgetKind = "table"
	WidgetGauge           WidgetKind = "gauge"
	WidgetStatusIndicator WidgetKind = "status-indicator"
	WidgetText            WidgetKind = "text"
	WidgetJSONViewer      WidgetKind = "json-viewer"
)

const (
	MinRefreshMs     = 1_000
	MaxRefreshMs     = 3_600_000
	DefaultRefreshMs = 30_000
)

// Widget describes what a widget can display.
type Widget struct {
	Kind         WidgetKind         `json:"id"`
	Name         string             `json:"name"`
	Supports     []domain.ValueType `json:"supportedTypes"`
	MinRefreshMs int                `json:"minRefreshMs"`
	MaxRefreshMs int                `json:"maxRefreshMs"`
}

// Accepts reports whether the widget can display t.
func (w Widget) Accepts(t domain.ValueType) bool {
	return slices.Contains(w.Supports, t)
}

func widget(kind WidgetKind, name string, types ...domain.ValueType) Widget {
	return Widget{Kind: kind, Name: name, Supports: types, MinRefreshMs: MinRefreshMs, MaxRefreshMs: MaxRefreshMs}
}

// catalog order is the recommendation order.
var catalog = []Widget{
	widget(WidgetMetricCard, "Metric Card", domain.ValueNumber, domain.ValueString),
	widget(WidgetLineChart, "Line Chart", domain.ValueArray),
	widget(WidgetBarChart, "Bar Chart", domain.ValueArray, domain.ValueObject),
	widget(WidgetPieChart, "Pie Chart", domain.ValueObject, domain.ValueArray),
	widget(WidgetTable, "Table", domain.ValueArray, domain.ValueObject),
	widget(WidgetGauge, "Gauge", domain.ValueNumber),
	widget(WidgetStatusIndicator, "Status Indicator", domain.ValueBoolean, domain.ValueString),
	widget(WidgetText, "Text", domain.ValueString, domain.ValueNumber, domain.ValueBoolean, domain.ValueNull),
	widget(WidgetJSONViewer, "JSON Viewer", domain.ValueObject, domain.ValueArray),
}

// Catalog returns every widget in declaration order.
func Catalog() []Widget {
	out := make([]Widget, len(catalog))
	for i, w := range catalog {
		w.Supports = slices.Clone(w.Supports)
		out[i] = w
	}
	return out
}

// LookupWidget finds a widget by kind.
func LookupWidget(kind WidgetKind) (Widget, bool) {
	for _, w := range catalog {
		if w.Kind == kind {
			return w, true
		}
	}
	return Widget{}, false
}

// SuggestWidgets lists the widgets accepting t. The first is recommended.
func SuggestWidgets(t domain.ValueType) []WidgetKind {
	var out []WidgetKind
	for _, w := range catalog {
		if w.Accepts(t) {
			out = append(out, w.Kind)
		}
	}
	return out
}
