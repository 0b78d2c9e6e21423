package redis_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/taskshell/internal/offline"
	"github.com/JakeFAU/taskshell/internal/storage/redis"
)

// fakeRedis keeps hashes and sets in memory.
type fakeRedis struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	sets   map[string]map[string]struct{}
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		hashes: make(map[string]map[string]string),
		sets:   make(map[string]map[string]struct{}),
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func (f *fakeRedis) HGet(_ context.Context, key, field string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return goredis.NewStringResult("", f.err)
	}
	v, ok := f.hashes[key][field]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeRedis) HSet(_ context.Context, key string, values ...interface{}) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return goredis.NewIntResult(0, f.err)
	}
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	var added int64
	for i := 0; i+1 < len(values); i += 2 {
		field := toString(values[i])
		if _, exists := h[field]; !exists {
			added++
		}
		h[field] = toString(values[i+1])
	}
	return goredis.NewIntResult(added, nil)
}

func (f *fakeRedis) HKeys(_ context.Context, key string) *goredis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.hashes[key]))
	for k := range f.hashes[key] {
		keys = append(keys, k)
	}
	return goredis.NewStringSliceResult(keys, f.err)
}

func (f *fakeRedis) HDel(_ context.Context, key string, fields ...string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return goredis.NewIntResult(0, f.err)
	}
	var removed int64
	for _, field := range fields {
		if _, ok := f.hashes[key][field]; ok {
			delete(f.hashes[key], field)
			removed++
		}
	}
	return goredis.NewIntResult(removed, nil)
}

func (f *fakeRedis) SAdd(_ context.Context, key string, members ...interface{}) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return goredis.NewIntResult(0, f.err)
	}
	set, ok := f.sets[key]
	if !ok {
		set = make(map[string]struct{})
		f.sets[key] = set
	}
	var added int64
	for _, m := range members {
		if _, exists := set[toString(m)]; !exists {
			added++
		}
		set[toString(m)] = struct{}{}
	}
	return goredis.NewIntResult(added, nil)
}

func (f *fakeRedis) SRem(_ context.Context, key string, members ...interface{}) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, m := range members {
		if _, ok := f.sets[key][toString(m)]; ok {
			delete(f.sets[key], toString(m))
			removed++
		}
	}
	return goredis.NewIntResult(removed, f.err)
}

func (f *fakeRedis) SIsMember(_ context.Context, key string, member interface{}) *goredis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sets[key][toString(member)]
	return goredis.NewBoolResult(ok, f.err)
}

func (f *fakeRedis) SMembers(_ context.Context, key string) *goredis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		members = append(members, m)
	}
	return goredis.NewStringSliceResult(members, f.err)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, k := range keys {
		if _, ok := f.hashes[k]; ok {
			delete(f.hashes, k)
			removed++
		}
	}
	return goredis.NewIntResult(removed, f.err)
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := redis.New(nil, redis.Config{})
	require.Error(t, err)

	_, err = redis.NewClient(redis.Config{})
	require.Error(t, err)
}

func TestStorage_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := newFakeRedis()
	store, err := redis.New(fake, redis.Config{})
	require.NoError(t, err)

	for _, name := range []string{"v2", "v1"} {
		_, err := store.Open(ctx, name)
		require.NoError(t, err)
	}
	names, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, names)
	assert.Contains(t, fake.sets, redis.DefaultPrefix+"caches")

	deleted, err := store.Delete(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, deleted)

	ok, err := store.Has(ctx, "v2")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.Open(ctx, "a/b")
	assert.Error(t, err)
}

func TestCache_PutMatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := newFakeRedis()
	store, err := redis.New(fake, redis.Config{Prefix: "t:"})
	require.NoError(t, err)

	cache, err := store.Open(ctx, "v1")
	require.NoError(t, err)

	require.NoError(t, cache.Put(ctx, "/b.png", offline.Response{StatusCode: 200, Body: []byte{1, 2}}))
	require.NoError(t, cache.Put(ctx, "/a.css", offline.Response{StatusCode: 200, Body: []byte("body{}")}))
	assert.Len(t, fake.hashes["t:cache:v1"], 2)

	got, err := cache.Match(ctx, "/a.css")
	require.NoError(t, err)
	assert.Equal(t, "/a.css", got.URL)
	assert.Equal(t, []byte("body{}"), got.Body)

	keys, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.css", "/b.png"}, keys)

	_, err = cache.Match(ctx, "/missing")
	assert.True(t, errors.Is(err, offline.ErrNotFound))

	_, err = store.Delete(ctx, "v1")
	require.NoError(t, err)
	assert.NotContains(t, fake.hashes, "t:cache:v1")
}

func TestStorage_LookupDoesNotRegister(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := newFakeRedis()
	store, err := redis.New(fake, redis.Config{})
	require.NoError(t, err)

	_, ok, err := store.Lookup(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, fake.sets[redis.DefaultPrefix+"caches"])

	opened, err := store.Open(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, opened.Put(ctx, "/a.css", offline.Response{StatusCode: 200}))

	cache, ok, err := store.Lookup(ctx, "v1")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = cache.Match(ctx, "/a.css")
	require.NoError(t, err)
}

func TestCache_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := newFakeRedis()
	store, err := redis.New(fake, redis.Config{})
	require.NoError(t, err)
	cache, err := store.Open(ctx, "v1")
	require.NoError(t, err)

	require.NoError(t, cache.Put(ctx, "/a.css", offline.Response{StatusCode: 200}))
	require.NoError(t, cache.Put(ctx, "/b.png", offline.Response{StatusCode: 200}))
	require.NoError(t, cache.Delete(ctx, "/a.css"))
	require.NoError(t, cache.Delete(ctx, "/missing"))

	keys, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/b.png"}, keys)

	fake.err = errors.New("connection reset")
	assert.Error(t, cache.Delete(ctx, "/b.png"))
}

func TestCache_CommandErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := newFakeRedis()
	store, err := redis.New(fake, redis.Config{})
	require.NoError(t, err)
	cache, err := store.Open(ctx, "v1")
	require.NoError(t, err)

	fake.err = errors.New("connection reset")

	_, err = cache.Match(ctx, "/a.css")
	require.Error(t, err)
	assert.False(t, errors.Is(err, offline.ErrNotFound))

	assert.Error(t, cache.Put(ctx, "/a.css", offline.Response{StatusCode: 200}))

	_, err = store.Keys(ctx)
	assert.Error(t, err)
}
