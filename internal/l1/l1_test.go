package l1_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/cachetypes"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/clock"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/l1"
)

func newTestCache(budget int64) (*l1.Cache, *clock.Fake) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return l1.New(budget, fc, zap.NewNop()), fc
}

func TestL1_SetGet(t *testing.T) {
	c, _ := newTestCache(1024)

	c.Set("search:v1:q:ABCD", []byte("hello"), time.Minute, "", cachetypes.DataTypeSearch)
	v, ok := c.Get("search:v1:q:ABCD")

	assert.True(t, ok)
	assert.Equal(t, "hello", string(v))
	assert.Equal(t, int64(1), c.Stats().Hits)
}

func TestL1_MissOnUnknownKey(t *testing.T) {
	c, _ := newTestCache(1024)
	_, ok := c.Get("nope")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestL1_TTLHonored(t *testing.T) {
	c, fc := newTestCache(1024)
	c.Set("k", []byte("v"), 10*time.Second, "", cachetypes.DataTypeSearch)

	fc.Advance(9 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok, "should still be live just before expiry")

	fc.Advance(2 * time.Second) // total 11s, past the 10s ttl
	_, ok = c.Get("k")
	assert.False(t, ok, "should be expired")
}

func TestL1_NoTTLNeverExpires(t *testing.T) {
	c, fc := newTestCache(1024)
	c.Set("k", []byte("v"), 0, "", cachetypes.DataTypeRecord)

	fc.Advance(365 * 24 * time.Hour)
	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestL1_SizeBudgetEnforced(t *testing.T) {
	c, _ := newTestCache(20) // 20 bytes total

	for i := 0; i < 10; i++ {
		c.Set(string(rune('a'+i)), []byte("1234567890"), 0, "", cachetypes.DataTypeSearch) // 10 bytes each
		assert.LessOrEqual(t, c.SizeBytes(), int64(20))
	}
}

func TestL1_LRUEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(20) // room for exactly 2 10-byte entries

	c.Set("a", []byte("1234567890"), 0, "", cachetypes.DataTypeSearch)
	c.Set("b", []byte("1234567890"), 0, "", cachetypes.DataTypeSearch)

	// touch "a" so "b" becomes the least-recently-used
	_, _ = c.Get("a")

	c.Set("c", []byte("1234567890"), 0, "", cachetypes.DataTypeSearch) // forces an eviction

	_, aOK := c.Get("a")
	_, bOK := c.Get("b")
	_, cOK := c.Get("c")

	assert.True(t, aOK, "a was touched, should survive")
	assert.False(t, bOK, "b was least-recently-used, should be evicted")
	assert.True(t, cOK)
}

func TestL1_TiesBreakByInsertionOrder(t *testing.T) {
	c, _ := newTestCache(20)

	c.Set("first", []byte("1234567890"), 0, "", cachetypes.DataTypeSearch)
	c.Set("second", []byte("1234567890"), 0, "", cachetypes.DataTypeSearch)
	// Neither key has been touched since insertion, so "first" (oldest) must
	// be evicted ahead of "second".
	c.Set("third", []byte("1234567890"), 0, "", cachetypes.DataTypeSearch)

	_, firstOK := c.Get("first")
	_, secondOK := c.Get("second")

	assert.False(t, firstOK)
	assert.True(t, secondOK)
}

func TestL1_Delete(t *testing.T) {
	c, _ := newTestCache(1024)
	c.Set("k", []byte("v"), 0, "", cachetypes.DataTypeSearch)
	c.Delete("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestL1_Clear(t *testing.T) {
	c, _ := newTestCache(1024)
	c.Set("a", []byte("1"), 0, "", cachetypes.DataTypeSearch)
	c.Set("b", []byte("2"), 0, "", cachetypes.DataTypeSearch)

	c.Clear()

	assert.Equal(t, int64(0), c.SizeBytes())
	assert.Equal(t, 0, c.Len())
}

func TestL1_KeysMatching(t *testing.T) {
	c, _ := newTestCache(1024)
	c.Set("search:v1:q:aaaa", []byte("1"), 0, "", cachetypes.DataTypeSearch)
	c.Set("search:v1:q:bbbb", []byte("2"), 0, "", cachetypes.DataTypeSearch)
	c.Set("record:v1:r:cccc", []byte("3"), 0, "", cachetypes.DataTypeRecord)

	keys := c.KeysMatching("search:v1:*:*")
	assert.Len(t, keys, 2)
}

func TestL1_DeleteMatching(t *testing.T) {
	c, _ := newTestCache(1024)
	c.Set("search:v1:q:aaaa", []byte("1"), 0, "", cachetypes.DataTypeSearch)
	c.Set("search:v1:q:bbbb", []byte("2"), 0, "", cachetypes.DataTypeSearch)
	c.Set("record:v1:r:cccc", []byte("3"), 0, "", cachetypes.DataTypeRecord)

	n := c.DeleteMatching("search:v1:*:*")
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, c.Len())
}

func TestL1_DeleteTag(t *testing.T) {
	c, _ := newTestCache(1024)
	c.Set("a", []byte("1"), 0, "promo", cachetypes.DataTypeSearch)
	c.Set("b", []byte("2"), 0, "promo", cachetypes.DataTypeSearch)
	c.Set("c", []byte("3"), 0, "other", cachetypes.DataTypeSearch)

	n := c.DeleteTag("promo")
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, c.Len())
}

func TestL1_SetReplacesExistingAtomically(t *testing.T) {
	c, _ := newTestCache(1024)
	c.Set("k", []byte("v1"), 0, "", cachetypes.DataTypeSearch)
	c.Set("k", []byte("v2-longer"), 0, "", cachetypes.DataTypeSearch)

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v2-longer", string(v))
	assert.Equal(t, int64(len("v2-longer")), c.SizeBytes())
}

func TestL1_GetReturnedSliceIsACopy(t *testing.T) {
	c, _ := newTestCache(1024)
	c.Set("k", []byte("hello"), 0, "", cachetypes.DataTypeSearch)

	v, _ := c.Get("k")
	v[0] = 'X'

	v2, _ := c.Get("k")
	assert.Equal(t, "hello", string(v2))
}
