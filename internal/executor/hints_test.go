package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/actionchat/actionchat/pkg/models"
)

func expandHints() *models.RuntimeHints {
	return &models.RuntimeHints{
		ListExpansion: &models.ListExpansionHint{
			Param:    "expand",
			Default:  []string{"*"},
			ToolGlob: "list_*",
		},
		FetchEnrichment: "get_customer",
		Response: models.ResponseHints{
			UnwrapData: true,
			DetectThin: true,
		},
	}
}

func TestApplyArgHintsInjectsDefault(t *testing.T) {
	out := ApplyArgHints(expandHints(), "list_customers", map[string]interface{}{"limit": float64(3)})
	assert.Equal(t, []interface{}{"*"}, out["expand"])
	assert.Equal(t, float64(3), out["limit"])
}

func TestApplyArgHintsRespectsExplicitValue(t *testing.T) {
	args := map[string]interface{}{"expand": []interface{}{"data.customer"}}
	out := ApplyArgHints(expandHints(), "list_customers", args)
	assert.Equal(t, []interface{}{"data.customer"}, out["expand"])
}

func TestApplyArgHintsGlobGates(t *testing.T) {
	out := ApplyArgHints(expandHints(), "get_customer", map[string]interface{}{})
	_, present := out["expand"]
	assert.False(t, present)
}

func TestApplyArgHintsNilPassthrough(t *testing.T) {
	args := map[string]interface{}{"x": float64(1)}
	assert.Equal(t, args, ApplyArgHints(nil, "list_things", args))
}

func TestApplyResponseHintsUnwrapData(t *testing.T) {
	body := map[string]interface{}{
		"data": []interface{}{
			map[string]interface{}{"id": "a", "name": "Ada"},
		},
		"has_more": false,
	}
	out, warning := ApplyResponseHints(expandHints(), body)
	arr, ok := out.([]interface{})
	assert.True(t, ok)
	assert.Len(t, arr, 1)
	assert.Empty(t, warning)
}

func TestApplyResponseHintsThinListWarning(t *testing.T) {
	body := map[string]interface{}{
		"data": []interface{}{
			map[string]interface{}{"id": "sub_1"},
			map[string]interface{}{"id": "sub_2"},
		},
	}
	_, warning := ApplyResponseHints(expandHints(), body)
	assert.Contains(t, warning, "only ids")
	assert.Contains(t, warning, "get_customer")
}

func TestApplyResponseHintsFullItemsNoWarning(t *testing.T) {
	body := []interface{}{
		map[string]interface{}{"id": "sub_1", "status": "active"},
	}
	hints := &models.RuntimeHints{Response: models.ResponseHints{DetectThin: true}}
	_, warning := ApplyResponseHints(hints, body)
	assert.Empty(t, warning)
}
