// README: Firebase Realtime Database store. Unconditional writes use a multi-path
// update on the root; conditional writes run as a transaction on the deepest
// common ancestor of every touched path.
package store

import (
	"context"
	"errors"

	"firebase.google.com/go/v4/db"
)

type Firebase struct {
	client *db.Client
}

func NewFirebase(client *db.Client) *Firebase {
	return &Firebase{client: client}
}

func (f *Firebase) Get(ctx context.Context, path string, dst any) error {
	if _, err := Split(path); err != nil {
		return err
	}
	var v any
	if err := f.client.NewRef(path).Get(ctx, &v); err != nil {
		return err
	}
	if v == nil {
		return ErrNotFound
	}
	return decode(v, dst)
}

func (f *Firebase) List(ctx context.Context, collection string, dst any) error {
	if _, err := Split(collection); err != nil {
		return err
	}
	var v any
	if err := f.client.NewRef(collection).Get(ctx, &v); err != nil {
		return err
	}
	if _, ok := v.(map[string]any); !ok {
		v = map[string]any{}
	}
	return decode(v, dst)
}

func (f *Firebase) Update(ctx context.Context, u *Update) error {
	if err := validate(u); err != nil {
		return err
	}
	if len(u.Conditions) == 0 {
		values := make(map[string]any, len(u.Values))
		for _, p := range u.Paths() {
			v, err := normalize(u.Values[p])
			if err != nil {
				return err
			}
			values[p] = v
		}
		return f.client.NewRef("/").Update(ctx, values)
	}

	anc := ancestor(u)
	conds, writes, err := relativize(u, len(anc))
	if err != nil {
		return err
	}
	var failed bool
	err = f.client.NewRef("/"+Join(anc...)).Transaction(ctx, func(node db.TransactionNode) (interface{}, error) {
		failed = false
		var cur any
		if err := node.Unmarshal(&cur); err != nil {
			return nil, err
		}
		root, ok := cur.(map[string]any)
		if !ok {
			root = map[string]any{}
		}
		if err := apply(root, conds, writes); err != nil {
			// Aborting the transaction leaves the node as read.
			failed = true
			return nil, err
		}
		if len(root) == 0 {
			return nil, nil
		}
		return root, nil
	})
	if failed || errors.Is(err, ErrConditionFailed) {
		return ErrConditionFailed
	}
	return err
}

func (f *Firebase) Delete(ctx context.Context, path string) error {
	if _, err := Split(path); err != nil {
		return err
	}
	return f.client.NewRef(path).Delete(ctx)
}

// ancestor returns the longest common prefix of all touched paths, kept at
// least one segment shorter than the shortest path so every path has a leaf
// below the transaction root.
func ancestor(u *Update) []string {
	var all [][]string
	for p := range u.Values {
		segs, _ := Split(p)
		all = append(all, segs)
	}
	for _, c := range u.Conditions {
		segs, _ := Split(c.Path)
		all = append(all, segs)
	}
	limit := len(all[0]) - 1
	for _, s := range all[1:] {
		if len(s)-1 < limit {
			limit = len(s) - 1
		}
	}
	var out []string
	for i := 0; i < limit; i++ {
		seg := all[0][i]
		for _, s := range all[1:] {
			if s[i] != seg {
				return out
			}
		}
		out = append(out, seg)
	}
	return out
}
