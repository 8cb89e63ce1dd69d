package repos_test

import (
	"encoding/json"
	"testing"

	"gorm.io/datatypes"
)

func mustJSON(t *testing.T, v any) datatypes.JSON {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal fixture json: %v", err)
	}
	return datatypes.JSON(b)
}
