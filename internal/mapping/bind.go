package mapping

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

// Aggregations applicable to array sources.
const (
	AggregateNone   = "none"
	AggregateSum    = "sum"
	AggregateAvg    = "avg"
	AggregateMin    = "min"
	AggregateMax    = "max"
	AggregateCount  = "count"
	AggregateLatest = "latest"
)

var aggregations = map[string]bool{
	AggregateNone: true, AggregateSum: true, AggregateAvg: true, AggregateMin: true,
	AggregateMax: true, AggregateCount: true, AggregateLatest: true,
}

// Bind validates and builds a mapping. doc is the sample response the path
// refers to; when nil, type checks are skipped.
func Bind(doc any, kind WidgetKind, path string, cfg domain.WidgetConfig) (domain.FieldMapping, error) {
	w, ok := LookupWidget(kind)
	if !ok {
		return domain.FieldMapping{}, domain.NewValidationError("widgetTypeId", "unknown widget %q", kind)
	}
	if _, err := parsePath(path); err != nil {
		return domain.FieldMapping{}, domain.NewValidationError("sourceFieldPath", "%v", err)
	}

	var valueType domain.ValueType
	if doc != nil {
		v, err := LookupPath(doc, path)
		if err != nil {
			return domain.FieldMapping{}, domain.NewValidationError("sourceFieldPath", "%v", err)
		}
		valueType = Classify(v)
		if !w.Accepts(valueType) {
			return domain.FieldMapping{}, domain.NewValidationError("widgetTypeId",
				"%s cannot display %s values", kind, valueType)
		}
	}

	cfg, err := normalizeConfig(w, valueType, cfg)
	if err != nil {
		return domain.FieldMapping{}, err
	}

	return domain.FieldMapping{
		WidgetTypeID: string(kind),
		SourcePath:   path,
		ValueType:    valueType,
		Config:       cfg,
	}, nil
}

func normalizeConfig(w Widget, valueType domain.ValueType, cfg domain.WidgetConfig) (domain.WidgetConfig, error) {
	if cfg.RefreshIntervalMs == 0 {
		cfg.RefreshIntervalMs = DefaultRefreshMs
	}
	if cfg.RefreshIntervalMs < w.MinRefreshMs || cfg.RefreshIntervalMs > w.MaxRefreshMs {
		return cfg, domain.NewValidationError("config.refreshIntervalMs",
			"must be between %d and %d", w.MinRefreshMs, w.MaxRefreshMs)
	}

	cfg.Aggregation = strings.ToLower(strings.TrimSpace(cfg.Aggregation))
	if cfg.Aggregation != "" && !aggregations[cfg.Aggregation] {
		return cfg, domain.NewValidationError("config.aggregation", "unknown aggregation %q", cfg.Aggregation)
	}
	if cfg.Aggregation != "" && cfg.Aggregation != AggregateNone && valueType != "" && valueType != domain.ValueArray {
		return cfg, domain.NewValidationError("config.aggregation", "only applies to array sources, got %s", valueType)
	}

	if strings.TrimSpace(cfg.Filter) != "" {
		if _, err := parseFilter(cfg.Filter); err != nil {
			return cfg, domain.NewValidationError("config.filter", "%v", err)
		}
		if valueType != "" && valueType != domain.ValueArray {
			return cfg, domain.NewValidationError("config.filter", "only applies to array sources, got %s", valueType)
		}
	}
	return cfg, nil
}

// ValidateMapping re-checks a mapping without a document, as used on import.
func ValidateMapping(m domain.FieldMapping) (domain.FieldMapping, error) {
	bound, err := Bind(nil, WidgetKind(m.WidgetTypeID), m.SourcePath, m.Config)
	if err != nil {
		return domain.FieldMapping{}, err
	}
	if m.ValueType != "" {
		w, _ := LookupWidget(WidgetKind(m.WidgetTypeID))
		if !w.Accepts(m.ValueType) {
			return domain.FieldMapping{}, domain.NewValidationError("valueType",
				"%s cannot display %s values", m.WidgetTypeID, m.ValueType)
		}
		bound.ValueType = m.ValueType
		if bound.Config, err = normalizeConfig(w, m.ValueType, bound.Config); err != nil {
			return domain.FieldMapping{}, err
		}
	}
	return bound, nil
}

type filter struct {
	field string
	op    string
	value string
}

var filterOps = []string{"==", "!=", ">=", "<=", ">", "<"}

// parseFilter reads "field op value", e.g. "status == active".
func parseFilter(expr string) (filter, error) {
	expr = strings.TrimSpace(expr)
	for _, op := range filterOps {
		i := strings.Index(expr, op)
		if i < 0 {
			continue
		}
		f := filter{
			field: strings.TrimSpace(expr[:i]),
			op:    op,
			value: strings.Trim(strings.TrimSpace(expr[i+len(op):]), `"'`),
		}
		if f.field == "" {
			return filter{}, fmt.Errorf("missing field in %q", expr)
		}
		return f, nil
	}
	return filter{}, fmt.Errorf("no operator in %q", expr)
}

func (f filter) match(el any) bool {
	var v any = el
	if f.field != "@" {
		var err error
		if v, err = LookupPath(el, f.field); err != nil {
			return false
		}
	}

	if a, ok := toFloat(v); ok {
		if b, err := strconv.ParseFloat(f.value, 64); err == nil {
			return compare(a, b, f.op)
		}
	}
	s := fmt.Sprint(v)
	if v == nil {
		s = "null"
	}
	switch f.op {
	case "==":
		return s == f.value
	case "!=":
		return s != f.value
	default:
		return compare(float64(strings.Compare(s, f.value)), 0, f.op)
	}
}

func compare(a, b float64, op string) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "<":
		return a < b
	case "<=":
		return a <= b
	}
	return false
}

// Render resolves a mapping against a document and applies its filter and
// aggregation.
func Render(doc any, m domain.FieldMapping) (any, error) {
	v, err := LookupPath(doc, m.SourcePath)
	if err != nil {
		return nil, err
	}
	arr, isArray := v.([]any)
	if !isArray {
		return v, nil
	}

	if strings.TrimSpace(m.Config.Filter) != "" {
		f, err := parseFilter(m.Config.Filter)
		if err != nil {
			return nil, err
		}
		kept := make([]any, 0, len(arr))
		for _, el := range arr {
			if f.match(el) {
				kept = append(kept, el)
			}
		}
		arr = kept
	}

	switch m.Config.Aggregation {
	case "", AggregateNone:
		return arr, nil
	case AggregateCount:
		return len(arr), nil
	case AggregateLatest:
		if len(arr) == 0 {
			return nil, nil
		}
		return arr[len(arr)-1], nil
	}

	var nums []float64
	for _, el := range arr {
		if f, ok := toFloat(el); ok {
			nums = append(nums, f)
		}
	}
	if len(nums) == 0 {
		return nil, nil
	}

	acc := nums[0]
	switch m.Config.Aggregation {
	case AggregateSum, AggregateAvg:
		for _, n := range nums[1:] {
			acc += n
		}
		if m.Config.Aggregation == AggregateAvg {
			acc /= float64(len(nums))
		}
	case AggregateMin:
		for _, n := range nums[1:] {
			acc = min(acc, n)
		}
	case AggregateMax:
		for _, n := range nums[1:] {
			acc = max(acc, n)
		}
	default:
		return nil, fmt.Errorf("unknown aggregation %q", m.Config.Aggregation)
	}
	return acc, nil
}
