// Package document holds JSON field-path helpers shared by the remote document stores.
package document

import (
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"ArticlesPipeline/internal/ports"
)

// Matches reports whether doc satisfies every equality filter.
func Matches(doc []byte, filters ...ports.Filter) bool {
	for _, f := range filters {
		result := gjson.GetBytes(doc, f.Path)
		if !result.Exists() {
			return false
		}
		if !equal(result, f.Value) {
			return false
		}
	}
	return true
}

func equal(result gjson.Result, value any) bool {
	switch v := value.(type) {
	case string:
		return result.Type == gjson.String && result.Str == v
	case fmt.Stringer:
		return result.Type == gjson.String && result.Str == v.String()
	case bool:
		return result.IsBool() && result.Bool() == v
	case int:
		return result.Type == gjson.Number && result.Int() == int64(v)
	case int64:
		return result.Type == gjson.Number && result.Int() == v
	case float64:
		return result.Type == gjson.Number && result.Float() == v
	case nil:
		return result.Type == gjson.Null
	default:
		return fmt.Sprint(result.Value()) == fmt.Sprint(v)
	}
}

// Patch sets each dotted path in fields on doc and returns the new document.
// Paths are applied in sorted order so nested writes are deterministic.
func Patch(doc []byte, fields map[string]any) ([]byte, error) {
	if len(doc) == 0 {
		doc = []byte("{}")
	}
	paths := make([]string, 0, len(fields))
	for path := range fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	out := doc
	for _, path := range paths {
		var err error
		out, err = sjson.SetBytes(out, path, fields[path])
		if err != nil {
			return nil, fmt.Errorf("patch %s: %w", path, err)
		}
	}
	return out, nil
}

// Valid reports whether doc is well-formed JSON.
func Valid(doc []byte) bool {
	return gjson.ValidBytes(doc)
}
