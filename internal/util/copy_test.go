package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyPayload_NestedIsolation(t *testing.T) {
	src := map[string]interface{}{
		"status": "failed",
		"attempts": 3,
		"nested": map[string]interface{}{
			"keys": []interface{}{"a", "b"},
		},
		"tags": []string{"x", "y"},
	}

	cpy := CopyPayload(src)
	require.Equal(t, src, cpy)

	src["status"] = "succeeded"
	src["nested"].(map[string]interface{})["keys"].([]interface{})[0] = "mutated"
	src["tags"].([]string)[0] = "mutated"

	assert.Equal(t, "failed", cpy["status"])
	assert.Equal(t, "a", cpy["nested"].(map[string]interface{})["keys"].([]interface{})[0])
	assert.Equal(t, "x", cpy["tags"].([]string)[0])
}

func TestCopyPayload_Nil(t *testing.T) {
	assert.Nil(t, CopyPayload(nil))
}
