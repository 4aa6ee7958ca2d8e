package specparse

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/actionchat/actionchat/internal/broker"
	"github.com/actionchat/actionchat/pkg/models"
)

// ParseMCPTools converts a live list_tools response into Operations:
// one per tool, method=MCP, path=mcpToolName. Properties with no
// declared type default to string.
func ParseMCPTools(sourceID string, tools []mcp.Tool) ([]models.Operation, error) {
	if len(tools) == 0 {
		return nil, broker.E(broker.KindInvalidSpec, "MCP server reported no tools")
	}

	ops := make([]models.Operation, 0, len(tools))
	for _, t := range tools {
		if t.Name == "" {
			return nil, broker.E(broker.KindInvalidSpec, "MCP tool listing contains an unnamed tool")
		}

		schema := inputSchemaToMap(t.InputSchema)
		params := make(map[string]models.ParameterSpec)
		mergeMCPProperties(params, schema)

		risk := ClassifyRisk(t.Name, t.Description)
		ops = append(ops, models.Operation{
			ID:                   uuid.NewString(),
			SourceID:             sourceID,
			OperationID:          t.Name,
			Name:                 t.Name,
			Description:          t.Description,
			Method:               models.MethodMCP,
			Path:                 t.Name,
			MCPToolName:          t.Name,
			ParameterSchema:      params,
			RequestBodySchema:    schema,
			RiskLevel:            risk,
			RequiresConfirmation: risk == models.RiskDangerous,
		})
	}
	return ops, nil
}

func inputSchemaToMap(schema mcp.ToolInputSchema) map[string]interface{} {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// mergeMCPProperties flattens the input schema's top-level properties
// into ParameterSpecs. Every MCP argument travels in the call body.
func mergeMCPProperties(out map[string]models.ParameterSpec, schema map[string]interface{}) {
	if schema == nil {
		return
	}
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return
	}
	required := make(map[string]bool)
	if reqs, ok := schema["required"].([]interface{}); ok {
		for _, r := range reqs {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}
	for name, raw := range props {
		spec := models.ParameterSpec{Type: "string", In: "body", Required: required[name]}
		if prop, ok := raw.(map[string]interface{}); ok {
			spec.Type = mapSchemaType(prop)
			if d, ok := prop["description"].(string); ok {
				spec.Description = d
			}
		}
		out[name] = spec
	}
}
