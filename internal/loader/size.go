package loader

import (
	"encoding/json"
	"fmt"
)

// encodedSize returns the length of doc in the canonical text form the size
// limit is defined on: ", " and ": " separators, ASCII-only output with
// \uXXXX escapes (surrogate pairs above the BMP), and no HTML escaping.
func encodedSize(doc any) (int, error) {
	switch v := doc.(type) {
	case nil:
		return len("null"), nil
	case bool:
		if v {
			return len("true"), nil
		}
		return len("false"), nil
	case json.Number:
		return len(v), nil
	case string:
		return quotedSize(v), nil
	case []any:
		n := 2
		for i, item := range v {
			if i > 0 {
				n += len(", ")
			}
			size, err := encodedSize(item)
			if err != nil {
				return 0, err
			}
			n += size
		}
		return n, nil
	case map[string]any:
		n := 2
		i := 0
		for key, item := range v {
			if i > 0 {
				n += len(", ")
			}
			i++
			size, err := encodedSize(item)
			if err != nil {
				return 0, err
			}
			n += quotedSize(key) + len(": ") + size
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected JSON value of type %T", doc)
	}
}

func quotedSize(s string) int {
	n := 2
	for _, r := range s {
		switch {
		case r == '"' || r == '\\' || r == '\b' || r == '\f' || r == '\n' || r == '\r' || r == '\t':
			n += 2
		case r >= 0x20 && r < 0x7f:
			n++
		case r > 0xffff:
			n += 12
		default:
			n += 6
		}
	}
	return n
}
