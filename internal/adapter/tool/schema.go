package tool

import (
	"encoding/json"

	"devagent/internal/domain"
)

// SchemaFormat names a provider convention for tool schema export.
type SchemaFormat string

const (
	FormatGeneric   SchemaFormat = "generic"
	FormatOpenAI    SchemaFormat = "openai"
	FormatAnthropic SchemaFormat = "anthropic"
	FormatGemini    SchemaFormat = "gemini"
)

// ParseSchemaFormat maps a string to a known format.
// Unknown conventions fall back to generic.
func ParseSchemaFormat(s string) SchemaFormat {
	switch SchemaFormat(s) {
	case FormatOpenAI, FormatAnthropic, FormatGemini, FormatGeneric:
		return SchemaFormat(s)
	default:
		return FormatGeneric
	}
}

// ExportSchema renders one tool schema in the given provider convention.
// Every format is a lossless rendering of the same name, description, and
// required-parameter set.
func ExportSchema(s domain.ToolSchema, format SchemaFormat) json.RawMessage {
	doc := s.ParametersDoc()

	var out any
	switch format {
	case FormatOpenAI:
		out = struct {
			Type     string `json:"type"`
			Function struct {
				Name        string          `json:"name"`
				Description string          `json:"description"`
				Parameters  json.RawMessage `json:"parameters"`
			} `json:"function"`
		}{
			Type: "function",
			Function: struct {
				Name        string          `json:"name"`
				Description string          `json:"description"`
				Parameters  json.RawMessage `json:"parameters"`
			}{Name: s.Name, Description: s.Description, Parameters: doc},
		}
	case FormatAnthropic:
		out = struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"input_schema"`
		}{Name: s.Name, Description: s.Description, InputSchema: doc}
	default: // generic and gemini share the flat shape
		out = struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			Parameters  json.RawMessage `json:"parameters"`
		}{Name: s.Name, Description: s.Description, Parameters: doc}
	}

	data, err := json.Marshal(out)
	if err != nil {
		// The inputs are plain structs and pre-marshaled JSON; this cannot
		// fail for well-formed schemas.
		return json.RawMessage("{}")
	}
	return data
}

// ExportSchemas renders every registered tool schema in the given format,
// sorted by tool name.
func (r *Registry) ExportSchemas(format SchemaFormat) []json.RawMessage {
	schemas := r.Schemas()
	out := make([]json.RawMessage, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, ExportSchema(s, format))
	}
	return out
}
