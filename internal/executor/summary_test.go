package executor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarizeListShape(t *testing.T) {
	body := map[string]interface{}{
		"data": []interface{}{
			map[string]interface{}{"id": "cus_1", "object": "customer", "name": "Ada"},
			map[string]interface{}{"id": "cus_2", "object": "customer"},
		},
		"has_more": true,
	}
	got := SummarizeForLLM(body, 200)
	assert.Equal(t, "Success: 2 items returned; has_more: true. First: cus_1 (customer: Ada)", got)
}

func TestSummarizeSingleObject(t *testing.T) {
	body := map[string]interface{}{"id": "in_5", "object": "invoice", "email": "a@b.co"}
	assert.Equal(t, "Success: invoice in_5 (a@b.co)", SummarizeForLLM(body, 201))
}

func TestSummarizeGenericObject(t *testing.T) {
	body := map[string]interface{}{"ok": true, "count": float64(4)}
	assert.Equal(t, "Success: {count, ok}", SummarizeForLLM(body, 200))

	wide := map[string]interface{}{"a": 1, "b": 2, "c": 3, "d": 4, "e": 5, "f": 6}
	assert.Equal(t, "Success: object with 6 fields", SummarizeForLLM(wide, 200))
}

func TestSummarizeError(t *testing.T) {
	body := map[string]interface{}{"error": map[string]interface{}{"message": "no such customer"}}
	got := SummarizeForLLM(body, 404)
	assert.True(t, strings.HasPrefix(got, "HTTP 404 Error:\n"))
	assert.Contains(t, got, "no such customer")
}

func TestSummarizeErrorCapped(t *testing.T) {
	long := strings.Repeat("x", 3*ErrCap)
	got := SummarizeForLLM(map[string]interface{}{"text": long}, 500)
	assert.LessOrEqual(t, len(got), ErrCap+len("HTTP 500 Error:\n"))
}

func TestSummarizeSuccessCapped(t *testing.T) {
	got := SummarizeForLLM(map[string]interface{}{"id": strings.Repeat("y", 2*LLMSummaryCap), "object": "blob"}, 200)
	assert.LessOrEqual(t, len(got), LLMSummaryCap)
}

func TestSummarizeBareArray(t *testing.T) {
	body := []interface{}{map[string]interface{}{"id": "t_1"}}
	assert.Equal(t, "Success: 1 items returned. First: t_1 (item)", SummarizeForLLM(body, 200))
}

func TestSummarizeEmptyList(t *testing.T) {
	body := map[string]interface{}{"data": []interface{}{}}
	assert.Equal(t, "Success: 0 items returned", SummarizeForLLM(body, 200))
}
