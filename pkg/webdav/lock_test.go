package webdav

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLM(t *testing.T) *LockManager {
	t.Helper()
	lm := NewLockManager(nil)
	t.Cleanup(lm.Close)
	return lm
}

func TestAcquireAndToken(t *testing.T) {
	lm := newTestLM(t)

	l, ok := lm.Acquire("/x.txt", "alice", DepthZero, ScopeExclusive, 0)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(l.Token, "opaquelocktoken:"))
	assert.Equal(t, DefaultLockTimeout, l.Timeout)
}

func TestAcquireConflictsOnSamePath(t *testing.T) {
	lm := newTestLM(t)

	_, ok := lm.Acquire("/x.txt", "alice", DepthZero, ScopeExclusive, 0)
	require.True(t, ok)

	_, ok = lm.Acquire("/x.txt", "bob", DepthZero, ScopeExclusive, 0)
	assert.False(t, ok)
}

func TestDepthInfinityConflictsWithDescendants(t *testing.T) {
	lm := newTestLM(t)

	_, ok := lm.Acquire("/dir", "alice", DepthInfinity, ScopeExclusive, 0)
	require.True(t, ok)

	_, ok = lm.Acquire("/dir/sub/file.txt", "bob", DepthZero, ScopeExclusive, 0)
	assert.False(t, ok)

	// Siblings stay lockable.
	_, ok = lm.Acquire("/other", "bob", DepthZero, ScopeExclusive, 0)
	assert.True(t, ok)
}

func TestDescendantLockConflictsWithAncestorMutation(t *testing.T) {
	lm := newTestLM(t)

	l, ok := lm.Acquire("/dir/file.txt", "alice", DepthZero, ScopeExclusive, 0)
	require.True(t, ok)

	conflict := lm.Check("/dir", "")
	require.NotNil(t, conflict)
	assert.Equal(t, l.Token, conflict.Token)
}

func TestCheckHonoursIfToken(t *testing.T) {
	lm := newTestLM(t)

	l, ok := lm.Acquire("/x.txt", "alice", DepthZero, ScopeExclusive, 0)
	require.True(t, ok)

	assert.NotNil(t, lm.Check("/x.txt", ""))
	assert.Nil(t, lm.Check("/x.txt", "(<"+l.Token+">)"))
	assert.Nil(t, lm.Check("/unlocked.txt", ""))

	// Tagged-list form.
	tagged := "<http://host/x.txt> (<" + l.Token + ">)"
	assert.Nil(t, lm.Check("/x.txt", tagged))
}

func TestRefresh(t *testing.T) {
	lm := newTestLM(t)

	l, ok := lm.Acquire("/x.txt", "alice", DepthZero, ScopeExclusive, 90*time.Second)
	require.True(t, ok)
	before := l.ExpiresAt

	time.Sleep(5 * time.Millisecond)
	refreshed, ok := lm.Refresh("/x.txt", l.Token, 120*time.Second)
	require.True(t, ok)
	assert.True(t, refreshed.ExpiresAt.After(before))

	_, ok = lm.Refresh("/x.txt", "opaquelocktoken:wrong", time.Minute)
	assert.False(t, ok)
}

func TestReleaseRequiresMatchingToken(t *testing.T) {
	lm := newTestLM(t)

	l, ok := lm.Acquire("/x.txt", "alice", DepthZero, ScopeExclusive, 0)
	require.True(t, ok)

	assert.False(t, lm.Release("/x.txt", "opaquelocktoken:wrong"))
	assert.True(t, lm.Release("/x.txt", l.Token))
	assert.Nil(t, lm.Get("/x.txt"))

	// Releasing again fails: nothing is locked.
	assert.False(t, lm.Release("/x.txt", l.Token))
}

func TestExpiredLockDoesNotConflict(t *testing.T) {
	lm := newTestLM(t)

	l, ok := lm.Acquire("/x.txt", "alice", DepthZero, ScopeExclusive, MinLockTimeout)
	require.True(t, ok)

	// Force expiry without waiting for the sweep.
	lm.mu.Lock()
	l.ExpiresAt = time.Now().Add(-time.Second)
	lm.mu.Unlock()

	assert.Nil(t, lm.Check("/x.txt", ""))
	_, ok = lm.Acquire("/x.txt", "bob", DepthZero, ScopeExclusive, 0)
	assert.True(t, ok)
}

func TestClampTimeout(t *testing.T) {
	assert.Equal(t, DefaultLockTimeout, ClampTimeout(0))
	assert.Equal(t, MinLockTimeout, ClampTimeout(time.Second))
	assert.Equal(t, MaxLockTimeout, ClampTimeout(24*time.Hour))
	assert.Equal(t, 300*time.Second, ClampTimeout(300*time.Second))
}

func TestParseTimeoutHeader(t *testing.T) {
	assert.Equal(t, 600*time.Second, ParseTimeoutHeader("Second-600"))
	assert.Equal(t, MaxLockTimeout, ParseTimeoutHeader("Infinite"))
	assert.Equal(t, 90*time.Second, ParseTimeoutHeader("Second-90, Infinite"))
	assert.Equal(t, DefaultLockTimeout, ParseTimeoutHeader("garbage"))
	assert.Equal(t, DefaultLockTimeout, ParseTimeoutHeader(""))
}

func TestParseIfTokens(t *testing.T) {
	tokens := parseIfTokens("(<opaquelocktoken:abc> <urn:other:x>) (<opaquelocktoken:def>)")
	assert.True(t, tokens["opaquelocktoken:abc"])
	assert.True(t, tokens["opaquelocktoken:def"])
	assert.False(t, tokens["urn:other:x"])
}
