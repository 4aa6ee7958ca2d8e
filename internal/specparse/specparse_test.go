package specparse

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actionchat/actionchat/internal/broker"
	"github.com/actionchat/actionchat/pkg/models"
)

func TestClassifyRisk(t *testing.T) {
	cases := []struct {
		name        string
		description string
		want        models.RiskLevel
	}{
		{"deleteCustomer", "", models.RiskDangerous},
		{"revokeToken", "", models.RiskDangerous},
		{"listCustomers", "", models.RiskSafe},
		{"getInvoice", "", models.RiskSafe},
		{"createCharge", "", models.RiskModerate},
		{"sendReceipt", "", models.RiskModerate},
		{"balance", "", models.RiskSafe},
		// Dangerous keyword anywhere beats a safe prefix.
		{"listAndPurgeLogs", "", models.RiskDangerous},
		// Safe prefix beats moderate keywords in the description.
		{"getCustomer", "updates the read counter", models.RiskSafe},
		// Keyword in the description alone is enough.
		{"charge", "cancel a pending charge", models.RiskDangerous},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyRisk(tc.name, tc.description), "ClassifyRisk(%q, %q)", tc.name, tc.description)
	}
}

const sampleSpec = `{
  "openapi": "3.0.0",
  "info": {"title": "Widgets", "version": "1.0.0"},
  "paths": {
    "/v1/widgets": {
      "get": {
        "operationId": "listWidgets",
        "summary": "List widgets",
        "parameters": [
          {"name": "limit", "in": "query", "schema": {"type": "integer"}}
        ]
      },
      "post": {
        "operationId": "createWidget",
        "summary": "Create a widget",
        "requestBody": {
          "content": {
            "application/json": {
              "schema": {
                "type": "object",
                "required": ["name"],
                "properties": {
                  "name": {"type": "string", "description": "Display name"},
                  "size": {"type": "integer"}
                }
              }
            }
          }
        }
      }
    },
    "/v1/widgets/{id}": {
      "parameters": [
        {"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}
      ],
      "get": {"operationId": "getWidget", "summary": "Fetch one widget"},
      "delete": {"operationId": "removeWidget", "summary": "Remove a widget"}
    }
  }
}`

func TestParseOpenAPI(t *testing.T) {
	ops, err := ParseOpenAPI("src1", []byte(sampleSpec))
	require.NoError(t, err)
	require.Len(t, ops, 4)

	byName := make(map[string]models.Operation)
	for _, op := range ops {
		byName[op.Name] = op
	}

	list := byName["listWidgets"]
	assert.Equal(t, "GET", list.Method)
	assert.Equal(t, "/v1/widgets", list.Path)
	assert.Equal(t, models.RiskSafe, list.RiskLevel)
	assert.False(t, list.RequiresConfirmation)
	require.Contains(t, list.ParameterSchema, "limit")
	assert.Equal(t, "query", list.ParameterSchema["limit"].In)
	assert.Equal(t, "integer", list.ParameterSchema["limit"].Type)

	create := byName["createWidget"]
	assert.Equal(t, models.RiskModerate, create.RiskLevel)
	require.NotNil(t, create.RequestBodySchema)
	require.Contains(t, create.ParameterSchema, "name")
	assert.Equal(t, "body", create.ParameterSchema["name"].In)
	assert.True(t, create.ParameterSchema["name"].Required)
	assert.Equal(t, "integer", create.ParameterSchema["size"].Type)

	get := byName["getWidget"]
	require.Contains(t, get.ParameterSchema, "id", "path-level parameters apply to operations")
	assert.Equal(t, "path", get.ParameterSchema["id"].In)
	assert.True(t, get.ParameterSchema["id"].Required)

	del := byName["removeWidget"]
	assert.Equal(t, models.RiskDangerous, del.RiskLevel)
	assert.True(t, del.RequiresConfirmation)
}

func TestParseOpenAPIInvalid(t *testing.T) {
	_, err := ParseOpenAPI("src1", []byte("this is not a spec"))
	require.Error(t, err)
	assert.Equal(t, broker.KindInvalidSpec, broker.KindOf(err))

	_, err = ParseOpenAPI("src1", []byte(`{"openapi": "3.0.0", "info": {"title": "t", "version": "1"}, "paths": {}}`))
	require.Error(t, err)
	assert.Equal(t, broker.KindInvalidSpec, broker.KindOf(err))
}

func TestParseMCPTools(t *testing.T) {
	tools := []mcp.Tool{
		{
			Name:        "list_issues",
			Description: "List issues in a project",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"project": map[string]interface{}{"type": "string", "description": "Project key"},
					"untyped": map[string]interface{}{},
				},
				Required: []string{"project"},
			},
		},
		{Name: "delete_issue", Description: "Delete an issue"},
	}

	ops, err := ParseMCPTools("src1", tools)
	require.NoError(t, err)
	require.Len(t, ops, 2)

	list := ops[0]
	assert.Equal(t, models.MethodMCP, list.Method)
	assert.Equal(t, "list_issues", list.MCPToolName)
	assert.Equal(t, "list_issues", list.Path)
	assert.Equal(t, models.RiskSafe, list.RiskLevel)
	require.Contains(t, list.ParameterSchema, "project")
	assert.True(t, list.ParameterSchema["project"].Required)
	assert.Equal(t, "string", list.ParameterSchema["untyped"].Type, "missing type defaults to string")

	del := ops[1]
	assert.Equal(t, models.RiskDangerous, del.RiskLevel)
	assert.True(t, del.RequiresConfirmation)
}

func TestParseMCPToolsEmpty(t *testing.T) {
	_, err := ParseMCPTools("src1", nil)
	require.Error(t, err)
	assert.Equal(t, broker.KindInvalidSpec, broker.KindOf(err))
}

func TestDeepCleanSchemaIdempotent(t *testing.T) {
	schema := map[string]interface{}{
		"type":        "object",
		"description": "",
		"nullable":    nil,
		"properties": map[string]interface{}{
			"name":  map[string]interface{}{"type": "string", "format": ""},
			"empty": map[string]interface{}{},
		},
		"required": []interface{}{"name", ""},
	}

	once := DeepCleanSchema(schema)
	twice := DeepCleanSchema(once)
	assert.Equal(t, once, twice)

	assert.NotContains(t, once, "description")
	assert.NotContains(t, once, "nullable")
	props := once["properties"].(map[string]interface{})
	assert.NotContains(t, props, "empty")
	assert.Equal(t, []interface{}{"name"}, once["required"])
}
