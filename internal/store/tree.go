package store

import (
	"reflect"

	"github.com/goccy/go-json"
)

// normalize converts v into the generic JSON shape (map[string]any, []any,
// float64, string, bool) so values compare the same way they would after a
// round trip through any backend.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decode(v any, dst any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func lookup(node any, segs []string) (any, bool) {
	cur := node
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[s]
		if !ok || cur == nil {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// assign writes v at segs below root, creating intermediate objects. A nil v
// deletes the leaf and prunes parents left empty, matching RTDB semantics.
func assign(root map[string]any, segs []string, v any) {
	if len(segs) == 0 {
		return
	}
	parents := make([]map[string]any, 0, len(segs))
	cur := root
	for _, s := range segs[:len(segs)-1] {
		parents = append(parents, cur)
		next, ok := cur[s].(map[string]any)
		if !ok {
			if v == nil {
				return
			}
			next = map[string]any{}
			cur[s] = next
		}
		cur = next
	}
	leaf := segs[len(segs)-1]
	if v != nil {
		cur[leaf] = v
		return
	}
	delete(cur, leaf)
	for i := len(parents) - 1; i >= 0 && len(cur) == 0; i-- {
		delete(parents[i], segs[i])
		cur = parents[i]
	}
}

func holds(root map[string]any, c Condition, segs []string) bool {
	got, found := lookup(root, segs)
	switch c.Op {
	case OpExists:
		return found
	case OpAbsent:
		return !found
	default:
		want, err := normalize(c.Value)
		if err != nil {
			return false
		}
		if want == nil {
			return !found
		}
		return found && reflect.DeepEqual(got, want)
	}
}

// apply checks every condition against root and, when all hold, performs
// every write. root is left untouched when a condition fails.
func apply(root map[string]any, conds []relCond, writes []relWrite) error {
	for _, c := range conds {
		if !holds(root, c.cond, c.segs) {
			return ErrConditionFailed
		}
	}
	for _, w := range writes {
		assign(root, w.segs, w.value)
	}
	return nil
}

type relCond struct {
	cond Condition
	segs []string
}

type relWrite struct {
	segs  []string
	value any
}

// relativize splits every path in u, strips the first `depth` segments and
// normalizes values. Writes are ordered parents first.
func relativize(u *Update, depth int) ([]relCond, []relWrite, error) {
	conds := make([]relCond, 0, len(u.Conditions))
	for _, c := range u.Conditions {
		segs, err := Split(c.Path)
		if err != nil {
			return nil, nil, err
		}
		conds = append(conds, relCond{cond: c, segs: segs[depth:]})
	}
	writes := make([]relWrite, 0, len(u.Values))
	for _, p := range u.Paths() {
		segs, err := Split(p)
		if err != nil {
			return nil, nil, err
		}
		v, err := normalize(u.Values[p])
		if err != nil {
			return nil, nil, err
		}
		writes = append(writes, relWrite{segs: segs[depth:], value: v})
	}
	return conds, writes, nil
}
