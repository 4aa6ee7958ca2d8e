// Package specparse turns upstream API specifications into normalized
// Operation records. Two inputs are supported: OpenAPI documents and
// live MCP tool listings.
package specparse

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/uuid"

	"github.com/actionchat/actionchat/internal/broker"
	"github.com/actionchat/actionchat/pkg/models"
)

// ParseOpenAPI converts an OpenAPI document into one Operation per
// (path, method) pair. Invalid input yields an invalid_spec error and
// no operations.
func ParseOpenAPI(sourceID string, doc []byte) ([]models.Operation, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	spec, err := loader.LoadFromData(doc)
	if err != nil {
		return nil, broker.Wrap(broker.KindInvalidSpec, err, "not a parseable OpenAPI document")
	}
	if spec.Paths == nil || len(spec.Paths.Map()) == 0 {
		return nil, broker.E(broker.KindInvalidSpec, "OpenAPI document declares no paths")
	}

	ops := make([]models.Operation, 0)
	for path, item := range spec.Paths.Map() {
		for method, op := range pathOperations(item) {
			if op == nil {
				continue
			}
			ops = append(ops, buildOperation(sourceID, method, path, item, op))
		}
	}
	return ops, nil
}

func pathOperations(item *openapi3.PathItem) map[string]*openapi3.Operation {
	return map[string]*openapi3.Operation{
		"GET":     item.Get,
		"POST":    item.Post,
		"PUT":     item.Put,
		"PATCH":   item.Patch,
		"DELETE":  item.Delete,
		"HEAD":    item.Head,
		"OPTIONS": item.Options,
	}
}

func buildOperation(sourceID, method, path string, item *openapi3.PathItem, op *openapi3.Operation) models.Operation {
	name := op.OperationID
	if name == "" {
		name = strings.ToLower(method) + " " + path
	}
	description := op.Summary
	if op.Description != "" {
		if description != "" {
			description += ". "
		}
		description += op.Description
	}

	// Stable identity across re-ingests: operationId when declared,
	// otherwise the (method, path) pair.
	operationID := op.OperationID
	if operationID == "" {
		operationID = method + " " + path
	}

	params := make(map[string]models.ParameterSpec)
	// Path-level parameters apply to every operation under the path;
	// operation-level entries override them.
	collectParameters(params, item.Parameters)
	collectParameters(params, op.Parameters)

	bodySchema := requestBodySchema(op)
	if bodySchema != nil {
		mergeBodyProperties(params, bodySchema)
	}

	risk := ClassifyRisk(name, description)
	if method == "DELETE" && risk != models.RiskDangerous {
		risk = models.RiskDangerous
	}

	return models.Operation{
		ID:                   uuid.NewString(),
		SourceID:             sourceID,
		OperationID:          operationID,
		Name:                 name,
		Description:          description,
		Method:               method,
		Path:                 path,
		ParameterSchema:      params,
		RequestBodySchema:    bodySchema,
		RiskLevel:            risk,
		RequiresConfirmation: risk == models.RiskDangerous,
		Tags:                 op.Tags,
	}
}

func collectParameters(out map[string]models.ParameterSpec, refs openapi3.Parameters) {
	for _, ref := range refs {
		if ref == nil || ref.Value == nil {
			continue
		}
		p := ref.Value
		if p.In != "path" && p.In != "query" {
			continue
		}
		out[p.Name] = models.ParameterSpec{
			Type:        schemaRefType(p.Schema),
			Description: p.Description,
			In:          p.In,
			Required:    p.Required || p.In == "path",
		}
	}
}

// requestBodySchema extracts the JSON request body schema as a generic
// map. Form-encoded bodies share the same schema shape.
func requestBodySchema(op *openapi3.Operation) map[string]interface{} {
	if op.RequestBody == nil || op.RequestBody.Value == nil {
		return nil
	}
	for _, mime := range []string{"application/json", "application/x-www-form-urlencoded"} {
		media := op.RequestBody.Value.Content.Get(mime)
		if media == nil || media.Schema == nil {
			continue
		}
		return schemaRefToMap(media.Schema)
	}
	return nil
}

// mergeBodyProperties records top-level body properties in the
// parameter schema with in=body so argument routing covers them.
func mergeBodyProperties(out map[string]models.ParameterSpec, bodySchema map[string]interface{}) {
	props, ok := bodySchema["properties"].(map[string]interface{})
	if !ok {
		return
	}
	required := make(map[string]bool)
	if reqs, ok := bodySchema["required"].([]interface{}); ok {
		for _, r := range reqs {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}
	for name, raw := range props {
		if _, taken := out[name]; taken {
			continue
		}
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

// schemaRefToMap flattens a schema to a generic JSON map. Going through
// JSON keeps the parser independent of the library's schema internals.
func schemaRefToMap(ref *openapi3.SchemaRef) map[string]interface{} {
	if ref == nil || ref.Value == nil {
		return nil
	}
	data, err := json.Marshal(ref.Value)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func schemaRefType(ref *openapi3.SchemaRef) string {
	m := schemaRefToMap(ref)
	if m == nil {
		return "string"
	}
	return mapSchemaType(m)
}

// mapSchemaType reads the "type" field of a generic schema map,
// tolerating both string and array forms.
func mapSchemaType(m map[string]interface{}) string {
	switch t := m["type"].(type) {
	case string:
		if t != "" {
			return t
		}
	case []interface{}:
		for _, v := range t {
			if s, ok := v.(string); ok && s != "null" {
				return s
			}
		}
	}
	return "string"
}

// ParseManual validates a manual source bind. Manual sources are legal
// empty sources and produce no operations.
func ParseManual(sourceID string) ([]models.Operation, error) {
	if sourceID == "" {
		return nil, fmt.Errorf("manual source requires an id")
	}
	return []models.Operation{}, nil
}
