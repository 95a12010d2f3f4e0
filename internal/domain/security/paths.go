package security

import (
	"fmt"
	"strconv"
	"strings"
)

// EncryptFields replaces the leaf value at each dotted path in payload with
// its encryption envelope. Intermediate structure and sibling fields are
// untouched. Paths that do not resolve to an existing leaf are silently
// skipped; an actual encryption failure aborts with an error.
func EncryptFields(c *Cipher, payload map[string]any, paths []string) error {
	for _, path := range paths {
		parent, key, idx, ok := resolveParent(payload, path)
		if !ok {
			continue
		}
		switch p := parent.(type) {
		case map[string]any:
			env, err := c.Encrypt(p[key])
			if err != nil {
				return fmt.Errorf("encrypt field %q: %w", path, err)
			}
			p[key] = env.AsMap()
		case []any:
			env, err := c.Encrypt(p[idx])
			if err != nil {
				return fmt.Errorf("encrypt field %q: %w", path, err)
			}
			p[idx] = env.AsMap()
		}
	}
	return nil
}

// resolveParent walks all but the last segment of path and returns the
// container holding the leaf plus the final key or index. ok is false when
// any segment (including the leaf itself) does not resolve.
func resolveParent(root map[string]any, path string) (parent any, key string, idx int, ok bool) {
	segs := strings.Split(path, ".")
	if len(segs) == 0 || path == "" {
		return nil, "", 0, false
	}

	var cur any = root
	for _, seg := range segs[:len(segs)-1] {
		switch v := cur.(type) {
		case map[string]any:
			next, found := v[seg]
			if !found {
				return nil, "", 0, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil, "", 0, false
			}
			cur = v[i]
		default:
			return nil, "", 0, false
		}
	}

	last := segs[len(segs)-1]
	switch v := cur.(type) {
	case map[string]any:
		if _, found := v[last]; !found {
			return nil, "", 0, false
		}
		return v, last, 0, true
	case []any:
		i, err := strconv.Atoi(last)
		if err != nil || i < 0 || i >= len(v) {
			return nil, "", 0, false
		}
		return v, "", i, true
	default:
		return nil, "", 0, false
	}
}
