package store

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-process Store holding one JSON tree behind a mutex.
type Memory struct {
	mu   sync.Mutex
	root map[string]any

	subMu sync.Mutex
	subs  map[string]map[chan struct{}]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		root: map[string]any{},
		subs: map[string]map[chan struct{}]struct{}{},
	}
}

func (m *Memory) Get(ctx context.Context, path string, dst any) error {
	segs, err := Split(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	v, ok := lookup(m.root, segs)
	var encErr error
	if ok {
		encErr = decode(v, dst)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return encErr
}

func (m *Memory) List(ctx context.Context, collection string, dst any) error {
	segs, err := Split(collection)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := lookup(m.root, segs)
	if !ok {
		v = map[string]any{}
	}
	return decode(v, dst)
}

func (m *Memory) Update(ctx context.Context, u *Update) error {
	if err := validate(u); err != nil {
		return err
	}
	conds, writes, err := relativize(u, 0)
	if err != nil {
		return err
	}
	m.mu.Lock()
	err = apply(m.root, conds, writes)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.notify(u.Collections()...)
	return nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	segs, err := Split(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	assign(m.root, segs, nil)
	m.mu.Unlock()
	m.notify(segs[0])
	return nil
}

func (m *Memory) Watch(ctx context.Context, collection string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.subMu.Lock()
	if m.subs[collection] == nil {
		m.subs[collection] = map[chan struct{}]struct{}{}
	}
	m.subs[collection][ch] = struct{}{}
	m.subMu.Unlock()

	out := make(chan struct{})
	go func() {
		defer func() {
			m.subMu.Lock()
			delete(m.subs[collection], ch)
			m.subMu.Unlock()
			close(out)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				select {
				case out <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (m *Memory) notify(collections ...string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, c := range collections {
		c = strings.SplitN(c, "/", 2)[0]
		for ch := range m.subs[c] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}
