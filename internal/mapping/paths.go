package mapping

import (
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

// PathEntry is one addressable value of a document.
type PathEntry struct {
	Path  string           `json:"path"`
	Value any              `json:"value"`
	Type  domain.ValueType `json:"type"`
	Depth int              `json:"depth"`
}

// EnumeratePaths walks doc depth-first: object members in order, array
// elements by index. The root itself is not emitted. The sequence is lazy
// and can be ranged over any number of times.
func EnumeratePaths(doc any) iter.Seq[PathEntry] {
	return func(yield func(PathEntry) bool) {
		walk(doc, "", 0, yield)
	}
}

// walk returns false when the consumer stopped.
func walk(v any, prefix string, depth int, yield func(PathEntry) bool) bool {
	switch node := v.(type) {
	case Object:
		for _, m := range node {
			p := joinKey(prefix, m.Key)
			if !yield(PathEntry{Path: p, Value: m.Value, Type: Classify(m.Value), Depth: depth + 1}) {
				return false
			}
			if !walk(m.Value, p, depth+1, yield) {
				return false
			}
		}
	case []any:
		for i, el := range node {
			p := prefix + "[" + strconv.Itoa(i) + "]"
			if !yield(PathEntry{Path: p, Value: el, Type: Classify(el), Depth: depth + 1}) {
				return false
			}
			if !walk(el, p, depth+1, yield) {
				return false
			}
		}
	}
	return true
}

func joinKey(prefix, key string) string {
	if needsQuoting(key) {
		return prefix + "[" + strconv.Quote(key) + "]"
	}
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func needsQuoting(key string) bool {
	return key == "" || strings.ContainsAny(key, ".[]\"")
}

type segment struct {
	key     string
	index   int
	isIndex bool
}

// parsePath splits a.b[0]["x.y"] into segments.
func parsePath(path string) ([]segment, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}

	var segs []segment
	i := 0
	for i < len(path) {
		switch path[i] {
		case '.':
			if i == 0 || i == len(path)-1 {
				return nil, fmt.Errorf("misplaced '.' at %d", i)
			}
			i++
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unclosed '[' at %d", i)
			}
			inner := path[i+1 : i+end]
			if strings.HasPrefix(inner, "\"") {
				// quoted keys may contain ']'
				closing := quotedEnd(path, i+1)
				if closing < 0 {
					return nil, fmt.Errorf("unterminated quoted key at %d", i)
				}
				key, err := strconv.Unquote(path[i+1 : closing+1])
				if err != nil {
					return nil, fmt.Errorf("bad quoted key at %d: %w", i, err)
				}
				if closing+1 >= len(path) || path[closing+1] != ']' {
					return nil, fmt.Errorf("expected ']' after quoted key at %d", closing)
				}
				segs = append(segs, segment{key: key})
				i = closing + 2
				continue
			}
			n, err := strconv.Atoi(inner)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("bad index %q", inner)
			}
			segs = append(segs, segment{index: n, isIndex: true})
			i += end + 1
		default:
			j := i
			for j < len(path) && path[j] != '.' && path[j] != '[' {
				j++
			}
			segs = append(segs, segment{key: path[i:j]})
			i = j
		}
	}
	return segs, nil
}

// quotedEnd returns the index of the closing quote of the string starting at start.
func quotedEnd(s string, start int) int {
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

// LookupPath resolves a path produced by EnumeratePaths.
func LookupPath(doc any, path string) (any, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, fmt.Errorf("path %q: %w", path, err)
	}

	cur := doc
	for _, s := range segs {
		if s.isIndex {
			arr, ok := cur.([]any)
			if !ok {
				return nil, fmt.Errorf("path %q: [%d] applied to %s", path, s.index, Classify(cur))
			}
			if s.index >= len(arr) {
				return nil, fmt.Errorf("path %q: index %d out of range", path, s.index)
			}
			cur = arr[s.index]
			continue
		}
		switch node := cur.(type) {
		case Object:
			v, ok := node.Get(s.key)
			if !ok {
				return nil, fmt.Errorf("path %q: no key %q", path, s.key)
			}
			cur = v
		case map[string]any:
			v, ok := node[s.key]
			if !ok {
				return nil, fmt.Errorf("path %q: no key %q", path, s.key)
			}
			cur = v
		default:
			return nil, fmt.Errorf("path %q: key %q applied to %s", path, s.key, Classify(cur))
		}
	}
	return cur, nil
}
