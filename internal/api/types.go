package api

import (
	"encoding/json"
	"time"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Error         APIError  `json:"error"`
}

type HealthResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Status        string    `json:"status"`
	Ready         bool      `json:"ready"`
}

// InitResponse wraps a boolean outcome when the caller asks for JSON instead
// of the plain OK/ERROR body.
type InitResponse struct {
	Code bool `json:"code"`
}

type LayerItem struct {
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	Mapset  string  `json:"mapset,omitempty"`
	Opacity float64 `json:"opacity"`
	Active  bool    `json:"active"`
}

type RenderWindowItem struct {
	Name     string `json:"name"`
	Rendered bool   `json:"rendered"`
}

type ToolbarState struct {
	Keys  []string `json:"keys"`
	Shown bool     `json:"shown"`
	Layer *string  `json:"layer"`
}

type StatusbarState struct {
	Mode  int     `json:"mode"`
	Scale float64 `json:"scale"`
}

type RegionState struct {
	North float64 `json:"n"`
	South float64 `json:"s"`
	East  float64 `json:"e"`
	West  float64 `json:"w"`
	NSRes float64 `json:"nsres"`
	EWRes float64 `json:"ewres"`
	Rows  int     `json:"rows"`
	Cols  int     `json:"cols"`
}

// DumpSnapshot is the /dump document: the workstation state visible to a
// remote automation client.
type DumpSnapshot struct {
	Layers    []LayerItem        `json:"layers"`
	Windows   []RenderWindowItem `json:"windows"`
	Toolbars  ToolbarState       `json:"toolbars"`
	Statusbar StatusbarState     `json:"statusbar"`
	Region    RegionState        `json:"region"`
	Output    string             `json:"output"`
}

// ModuleOutput is the stdout of a GIS module: either a structured JSON
// document or raw text, selected explicitly by the caller's format option.
type ModuleOutput struct {
	structured json.RawMessage
	raw        string
}

func StructuredOutput(doc json.RawMessage) ModuleOutput {
	return ModuleOutput{structured: doc}
}

func RawOutput(text string) ModuleOutput {
	return ModuleOutput{raw: text}
}

func (o ModuleOutput) Structured() (json.RawMessage, bool) {
	return o.structured, o.structured != nil
}

func (o ModuleOutput) Raw() string {
	if o.structured != nil {
		return string(o.structured)
	}
	return o.raw
}

func (o ModuleOutput) MarshalJSON() ([]byte, error) {
	if o.structured != nil {
		return o.structured, nil
	}
	return json.Marshal(o.raw)
}

func (o *ModuleOutput) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*o = RawOutput(text)
		return nil
	}
	doc := make(json.RawMessage, len(data))
	copy(doc, data)
	*o = StructuredOutput(doc)
	return nil
}

type GCmdResponse struct {
	ReturnCode int          `json:"returncode"`
	Stdout     ModuleOutput `json:"stdout"`
}

type CommandItem struct {
	CommandID   string          `json:"command_id"`
	Kind        string          `json:"kind"`
	Params      json.RawMessage `json:"params,omitempty"`
	ResultCode  string          `json:"result_code"`
	ExitCode    *int            `json:"exit_code,omitempty"`
	RequestedAt string          `json:"requested_at"`
	CompletedAt *string         `json:"completed_at,omitempty"`
	DurationMS  int64           `json:"duration_ms"`
}

type HistoryEnvelope struct {
	SchemaVersion string        `json:"schema_version"`
	GeneratedAt   time.Time     `json:"generated_at"`
	Commands      []CommandItem `json:"commands"`
}
