package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// typeErrorPath returns the path of the value that failed to decode, with
// array indices. The decoder only reports the field names ("items.quantity"),
// so the index is recovered by walking the document along those names to the
// first value of the reported JSON kind.
func typeErrorPath(body []byte, typeErr *json.UnmarshalTypeError) string {
	if typeErr.Field == "" {
		return "body"
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return typeErr.Field
	}

	path, ok := locate(doc, strings.Split(typeErr.Field, "."), typeErr.Value)
	if !ok {
		return typeErr.Field
	}
	return strings.TrimPrefix(path, ".")
}

func locate(node interface{}, names []string, kind string) (string, bool) {
	if len(names) == 0 && hasKind(node, kind) {
		return "", true
	}

	switch n := node.(type) {
	case []interface{}:
		for i, elem := range n {
			if sub, ok := locate(elem, names, kind); ok {
				return fmt.Sprintf("[%d]%s", i, sub), true
			}
		}
	case map[string]interface{}:
		if len(names) == 0 {
			return "", false
		}
		child, found := member(n, names[0])
		if !found {
			return "", false
		}
		if sub, ok := locate(child, names[1:], kind); ok {
			return "." + names[0] + sub, true
		}
	}
	return "", false
}

// member looks a key up the way the decoder matches fields: exact first, then case-insensitively
func member(obj map[string]interface{}, name string) (interface{}, bool) {
	if v, ok := obj[name]; ok {
		return v, true
	}
	for k, v := range obj {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// hasKind matches a decoded value against the kind named in an UnmarshalTypeError.
// Numbers that overflow or carry a fraction are reported with their literal.
func hasKind(node interface{}, kind string) bool {
	switch n := node.(type) {
	case json.Number:
		return kind == "number" || kind == "number "+n.String()
	case string:
		return kind == "string"
	case bool:
		return kind == "bool"
	case []interface{}:
		return kind == "array"
	case map[string]interface{}:
		return kind == "object"
	}
	return false
}
