package pgstore

import (
	"gorm.io/datatypes"

	"github.com/meshrun/engine/internal/store/flatstate"
)

func flatstateReadAll(doc datatypes.JSON) map[string]any {
	if len(doc) == 0 {
		return map[string]any{}
	}
	return flatstate.ReadAll(doc)
}

func flatstateMerge(doc datatypes.JSON, values map[string]any) (datatypes.JSON, error) {
	merged, err := flatstate.Merge(doc, values)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(merged), nil
}
