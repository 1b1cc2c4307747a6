package supplier

import (
	"sort"

	"github.com/aarushishahhh/supplysync/project/internal/models"
)

// FlattenFields returns the sorted dotted paths of every leaf in rec.
// Nested objects are walked; arrays, scalars and null are leaves.
func FlattenFields(rec models.Record) []string {
	set := make(map[string]struct{})
	collectFields(rec, "", set)

	fields := make([]string, 0, len(set))
	for field := range set {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

func collectFields(obj map[string]any, prefix string, set map[string]struct{}) {
	for key, value := range obj {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		if nested, ok := value.(map[string]any); ok && nested != nil {
			collectFields(nested, path, set)
			continue
		}
		set[path] = struct{}{}
	}
}
