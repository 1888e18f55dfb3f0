package keymatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/keymatch"
)

func TestMatch_ExactSegments(t *testing.T) {
	assert.True(t, keymatch.Match("search:v1:q:abcd", "search:v1:q:abcd"))
	assert.False(t, keymatch.Match("search:v1:q:abcd", "search:v1:q:efgh"))
}

func TestMatch_WildcardSegment(t *testing.T) {
	assert.True(t, keymatch.Match("search:v1:*:abcd", "search:v1:q:abcd"))
	assert.True(t, keymatch.Match("search:*:*:*", "search:v2:anything:xyz"))
}

func TestMatch_WildcardDoesNotSpanSegments(t *testing.T) {
	assert.False(t, keymatch.Match("search:*", "search:v1:q:abcd"))
}

func TestMatch_SegmentCountMustMatch(t *testing.T) {
	assert.False(t, keymatch.Match("search:v1:q", "search:v1:q:abcd"))
}

func TestHasWildcard(t *testing.T) {
	assert.True(t, keymatch.HasWildcard("search:v1:*:abcd"))
	assert.False(t, keymatch.HasWildcard("search:v1:q:abcd"))
}
