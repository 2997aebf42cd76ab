// README: Redis-backed store. Each collection/id document is one JSON string key;
// conditional multi-path writes run as a single Lua script so they are atomic.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// updateScript receives the touched document keys (and their index sets) in
// KEYS and a JSON plan in ARGV[1]. It returns 0 when a condition fails and 1
// after applying every write.
var updateScript = redis.NewScript(`
local plan = cjson.decode(ARGV[1])
local docs = {}

local function load(i)
  if docs[i] == nil then
    local raw = redis.call('GET', KEYS[i])
    if raw then docs[i] = cjson.decode(raw) else docs[i] = false end
  end
  return docs[i]
end

local function lookup(i, path)
  local cur = load(i)
  if cur == false then return nil end
  for _, seg in ipairs(path) do
    if type(cur) ~= 'table' then return nil end
    cur = cur[seg]
    if cur == nil or cur == cjson.null then return nil end
  end
  return cur
end

local function equal(a, b)
  if type(a) ~= type(b) then return false end
  if type(a) ~= 'table' then return a == b end
  for k, v in pairs(a) do
    if not equal(v, b[k]) then return false end
  end
  for k, _ in pairs(b) do
    if a[k] == nil then return false end
  end
  return true
end

for _, c in ipairs(plan.conds) do
  local got = lookup(c.doc, c.path)
  if c.op == 1 then
    if got == nil then return 0 end
  elseif c.op == 2 then
    if got ~= nil then return 0 end
  else
    if got == nil or not equal(got, c.value) then return 0 end
  end
end

for _, w in ipairs(plan.writes) do
  local doc = load(w.doc)
  if #w.path == 0 then
    if w.del then docs[w.doc] = false else docs[w.doc] = w.value end
  else
    if doc == false or type(doc) ~= 'table' then
      if not w.del then
        doc = {}
        docs[w.doc] = doc
      end
    end
    if doc ~= false then
      local cur = doc
      local parents = {}
      local ok = true
      for n = 1, #w.path - 1 do
        local nxt = cur[w.path[n]]
        if type(nxt) ~= 'table' then
          if w.del then ok = false break end
          nxt = {}
          cur[w.path[n]] = nxt
        end
        parents[n] = cur
        cur = nxt
      end
      if ok then
        if w.del then
          cur[w.path[#w.path]] = nil
          for n = #parents, 1, -1 do
            if next(cur) ~= nil then break end
            parents[n][w.path[n]] = nil
            cur = parents[n]
          end
        else
          cur[w.path[#w.path]] = w.value
        end
      end
    end
  end
end

for _, d in ipairs(plan.docs) do
  local doc = docs[d.doc]
  if doc ~= nil then
    if doc == false or (type(doc) == 'table' and next(doc) == nil) then
      redis.call('DEL', KEYS[d.doc])
      redis.call('SREM', KEYS[d.idx], d.id)
    else
      redis.call('SET', KEYS[d.doc], cjson.encode(doc))
      redis.call('SADD', KEYS[d.idx], d.id)
    end
  end
end
return 1
`)

type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "aeras"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) docKey(collection, id string) string {
	return fmt.Sprintf("%s:%s/%s", r.prefix, collection, id)
}

func (r *Redis) indexKey(collection string) string {
	return fmt.Sprintf("%s:idx:%s", r.prefix, collection)
}

func (r *Redis) channel() string {
	return r.prefix + ":changes"
}

func (r *Redis) Get(ctx context.Context, path string, dst any) error {
	segs, err := Split(path)
	if err != nil {
		return err
	}
	if len(segs) == 1 {
		tree, err := r.collection(ctx, segs[0])
		if err != nil {
			return err
		}
		if len(tree) == 0 {
			return ErrNotFound
		}
		return decode(tree, dst)
	}
	raw, err := r.client.Get(ctx, r.docKey(segs[0], segs[1])).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return err
	}
	v, ok := lookup(doc, segs[2:])
	if !ok {
		return ErrNotFound
	}
	return decode(v, dst)
}

func (r *Redis) List(ctx context.Context, collection string, dst any) error {
	segs, err := Split(collection)
	if err != nil {
		return err
	}
	if len(segs) > 1 {
		err := r.Get(ctx, collection, dst)
		if errors.Is(err, ErrNotFound) {
			return decode(map[string]any{}, dst)
		}
		return err
	}
	tree, err := r.collection(ctx, segs[0])
	if err != nil {
		return err
	}
	return decode(tree, dst)
}

func (r *Redis) collection(ctx context.Context, collection string) (map[string]any, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey(collection)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.docKey(collection, id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var doc any
		if err := json.Unmarshal([]byte(s), &doc); err != nil {
			return nil, err
		}
		out[ids[i]] = doc
	}
	return out, nil
}

type scriptCond struct {
	Doc   int      `json:"doc"`
	Path  []string `json:"path"`
	Op    CondOp   `json:"op"`
	Value any      `json:"value"`
}

type scriptWrite struct {
	Doc   int      `json:"doc"`
	Path  []string `json:"path"`
	Value any      `json:"value"`
	Del   bool     `json:"del"`
}

type scriptDoc struct {
	Doc int    `json:"doc"`
	Idx int    `json:"idx"`
	ID  string `json:"id"`
}

type scriptPlan struct {
	Conds  []scriptCond  `json:"conds"`
	Writes []scriptWrite `json:"writes"`
	Docs   []scriptDoc   `json:"docs"`
}

// Lua arrays are 1-based; the plan refers to KEYS positions directly.
type keySet struct {
	keys []string
	pos  map[string]int
}

func (k *keySet) add(key string) int {
	if i, ok := k.pos[key]; ok {
		return i
	}
	k.keys = append(k.keys, key)
	k.pos[key] = len(k.keys)
	return len(k.keys)
}

func (r *Redis) Update(ctx context.Context, u *Update) error {
	if err := validate(u); err != nil {
		return err
	}
	conds, writes, err := relativize(u, 0)
	if err != nil {
		return err
	}
	ks := &keySet{pos: map[string]int{}}
	plan := scriptPlan{Conds: []scriptCond{}, Writes: []scriptWrite{}, Docs: []scriptDoc{}}
	docs := map[int]bool{}

	for _, c := range conds {
		if len(c.segs) < 2 {
			return ErrInvalidPath
		}
		v, err := normalize(c.cond.Value)
		if err != nil {
			return err
		}
		op := c.cond.Op
		if op == OpEquals && v == nil {
			op = OpAbsent
		}
		plan.Conds = append(plan.Conds, scriptCond{
			Doc:   ks.add(r.docKey(c.segs[0], c.segs[1])),
			Path:  emptyIfNil(c.segs[2:]),
			Op:    op,
			Value: v,
		})
	}
	for _, w := range writes {
		if len(w.segs) < 2 {
			return ErrInvalidPath
		}
		doc := ks.add(r.docKey(w.segs[0], w.segs[1]))
		idx := ks.add(r.indexKey(w.segs[0]))
		plan.Writes = append(plan.Writes, scriptWrite{
			Doc:   doc,
			Path:  emptyIfNil(w.segs[2:]),
			Value: w.value,
			Del:   w.value == nil,
		})
		if !docs[doc] {
			docs[doc] = true
			plan.Docs = append(plan.Docs, scriptDoc{Doc: doc, Idx: idx, ID: w.segs[1]})
		}
	}

	payload, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	res, err := updateScript.Run(ctx, r.client, ks.keys, string(payload)).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrConditionFailed
	}
	r.publish(ctx, u.Collections()...)
	return nil
}

func (r *Redis) Delete(ctx context.Context, path string) error {
	segs, err := Split(path)
	if err != nil {
		return err
	}
	switch {
	case len(segs) == 1:
		return ErrInvalidPath
	case len(segs) == 2:
		_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, r.docKey(segs[0], segs[1]))
			p.SRem(ctx, r.indexKey(segs[0]), segs[1])
			return nil
		})
		if err != nil {
			return err
		}
		r.publish(ctx, segs[0])
		return nil
	default:
		return r.Update(ctx, NewUpdate().Remove(path))
	}
}

func (r *Redis) publish(ctx context.Context, collections ...string) {
	for _, c := range collections {
		_ = r.client.Publish(ctx, r.channel(), c).Err()
	}
}

// Watch subscribes to the change channel shared by every process using the
// same prefix, so writes from other instances are observed too.
func (r *Redis) Watch(ctx context.Context, collection string) <-chan struct{} {
	out := make(chan struct{}, 1)
	sub := r.client.Subscribe(ctx, r.channel())
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if msg.Payload != collection {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
