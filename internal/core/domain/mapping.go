package domain

// ValueType is the inferred JSON type of a mapped field.
type ValueType string

const (
	ValueString  ValueType = "string"
	ValueNumber  ValueType = "number"
	ValueBoolean ValueType = "boolean"
	ValueArray   ValueType = "array"
	ValueObject  ValueType = "object"
	ValueNull    ValueType = "null"
)

// WidgetConfig is the per-widget presentation configuration.
type WidgetConfig struct {
	Title             string `json:"title"`
	RefreshIntervalMs int    `json:"refreshIntervalMs"`
	DisplayFormat     string `json:"displayFormat"`
	ColorScheme       string `json:"colorScheme"`
	Aggregation       string `json:"aggregation,omitempty"`
	Filter            string `json:"filter,omitempty"`
}

// FieldMapping binds a JSON path of an API response to a dashboard widget.
type FieldMapping struct {
	WidgetTypeID string       `json:"widgetTypeId"`
	SourcePath   string       `json:"sourceFieldPath"`
	ValueType    ValueType    `json:"valueType"`
	Config       WidgetConfig `json:"config"`
}
