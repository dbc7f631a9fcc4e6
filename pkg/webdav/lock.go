package webdav

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quarryfs/quarry/pkg/metrics"
	"github.com/quarryfs/quarry/pkg/vpath"
)

// Lock scope and depth values per RFC 4918.
const (
	ScopeExclusive = "exclusive"
	ScopeShared    = "shared"

	DepthZero     = "0"
	DepthInfinity = "infinity"
)

// Timeout bounds for LOCK requests. Requests outside the window are
// clamped, never refused.
const (
	MinLockTimeout     = 60 * time.Second
	MaxLockTimeout     = 3600 * time.Second
	DefaultLockTimeout = 600 * time.Second

	sweepInterval = 60 * time.Second
)

// Lock is one advisory WebDAV lock.
type Lock struct {
	Token     string
	Path      string
	Depth     string
	Owner     string
	Scope     string
	Timeout   time.Duration
	ExpiresAt time.Time
}

// LockManager is the process-local advisory lock table. Locks do not
// propagate across nodes; deployments scaling beyond one node must pin
// WebDAV clients to nodes or externalise this table.
type LockManager struct {
	mu      sync.RWMutex
	locks   map[string]*Lock // key: normalised path
	metrics metrics.GatewayMetrics
	stop    chan struct{}
	stopped sync.Once
}

// NewLockManager creates a lock manager and starts the expiry sweep.
func NewLockManager(m metrics.GatewayMetrics) *LockManager {
	if m == nil {
		m = metrics.NewGatewayMetrics()
	}
	lm := &LockManager{
		locks:   make(map[string]*Lock),
		metrics: m,
		stop:    make(chan struct{}),
	}
	go lm.sweep()
	return lm
}

// Close stops the expiry sweep.
func (lm *LockManager) Close() {
	lm.stopped.Do(func() { close(lm.stop) })
}

func (lm *LockManager) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-lm.stop:
			return
		case <-ticker.C:
			now := time.Now()
			lm.mu.Lock()
			for path, l := range lm.locks {
				if now.After(l.ExpiresAt) {
					delete(lm.locks, path)
				}
			}
			lm.metrics.SetLockCount(len(lm.locks))
			lm.mu.Unlock()
		}
	}
}

// ClampTimeout normalises a requested lock timeout into the allowed
// window. Zero selects the default.
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultLockTimeout
	case d < MinLockTimeout:
		return MinLockTimeout
	case d > MaxLockTimeout:
		return MaxLockTimeout
	default:
		return d
	}
}

// Acquire takes a new lock on path. It fails when an existing unexpired
// exclusive lock overlaps: same path, a depth-infinity ancestor, or any
// descendant.
func (lm *LockManager) Acquire(path, owner, depth, scope string, timeout time.Duration) (*Lock, bool) {
	if depth != DepthZero {
		depth = DepthInfinity
	}
	if scope != ScopeShared {
		scope = ScopeExclusive
	}
	timeout = ClampTimeout(timeout)

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.conflicting(path, "") != nil {
		return nil, false
	}

	l := &Lock{
		Token:     "opaquelocktoken:" + uuid.NewString(),
		Path:      path,
		Depth:     depth,
		Owner:     owner,
		Scope:     scope,
		Timeout:   timeout,
		ExpiresAt: time.Now().Add(timeout),
	}
	lm.locks[path] = l
	lm.metrics.SetLockCount(len(lm.locks))
	return l, true
}

// Refresh resets the expiry of the lock on path. The token must match.
func (lm *LockManager) Refresh(path, token string, timeout time.Duration) (*Lock, bool) {
	timeout = ClampTimeout(timeout)

	lm.mu.Lock()
	defer lm.mu.Unlock()

	l, ok := lm.locks[path]
	if !ok || l.Token != token || time.Now().After(l.ExpiresAt) {
		return nil, false
	}
	l.Timeout = timeout
	l.ExpiresAt = time.Now().Add(timeout)
	return l, true
}

// Release removes the lock on path. Fails when the token does not match
// an existing lock.
func (lm *LockManager) Release(path, token string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	l, ok := lm.locks[path]
	if !ok || l.Token != token {
		return false
	}
	delete(lm.locks, path)
	lm.metrics.SetLockCount(len(lm.locks))
	return true
}

// Get returns the unexpired lock exactly on path.
func (lm *LockManager) Get(path string) *Lock {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	l, ok := lm.locks[path]
	if !ok || time.Now().After(l.ExpiresAt) {
		return nil
	}
	return l
}

// Check decides whether a mutating method may proceed on path given the
// request's If header. It returns nil when permitted, or the conflicting
// lock. Submitted tokens are honoured regardless of the If-header's
// resource tagging.
func (lm *LockManager) Check(path, ifHeader string) *Lock {
	tokens := parseIfTokens(ifHeader)

	lm.mu.RLock()
	defer lm.mu.RUnlock()

	l := lm.conflicting(path, "")
	if l == nil {
		return nil
	}
	if tokens[l.Token] {
		return nil
	}
	return l
}

// conflicting returns an unexpired exclusive lock overlapping path:
// the path itself, an ancestor with depth infinity, or any descendant.
// Locks whose token equals ignoreToken are skipped.
func (lm *LockManager) conflicting(path, ignoreToken string) *Lock {
	now := time.Now()
	for lockedPath, l := range lm.locks {
		if now.After(l.ExpiresAt) || l.Scope != ScopeExclusive {
			continue
		}
		if ignoreToken != "" && l.Token == ignoreToken {
			continue
		}

		switch {
		case lockedPath == path:
			return l
		case l.Depth == DepthInfinity && vpath.HasPrefix(path, lockedPath):
			return l
		case vpath.HasPrefix(lockedPath, path):
			// A mutation on a directory conflicts with locks below it.
			return l
		}
	}
	return nil
}

// Len returns the number of table entries, expired included.
func (lm *LockManager) Len() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.locks)
}

// parseIfTokens extracts every lock token mentioned in an If header.
// The full If grammar (RFC 4918 §10.4) allows tagged lists and etag
// conditions; the lock table only needs the opaque tokens.
func parseIfTokens(ifHeader string) map[string]bool {
	tokens := make(map[string]bool)
	rest := ifHeader
	for {
		start := strings.IndexByte(rest, '<')
		if start < 0 {
			return tokens
		}
		end := strings.IndexByte(rest[start:], '>')
		if end < 0 {
			return tokens
		}
		candidate := rest[start+1 : start+end]
		if strings.HasPrefix(candidate, "opaquelocktoken:") {
			tokens[candidate] = true
		}
		rest = rest[start+end+1:]
	}
}

// ParseTimeoutHeader parses a WebDAV Timeout header ("Second-600",
// "Infinite", or a comma-separated preference list) into a duration.
// Unparseable values select the default.
func ParseTimeoutHeader(value string) time.Duration {
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if strings.EqualFold(part, "Infinite") {
			return MaxLockTimeout
		}
		if rest, ok := cutPrefixFold(part, "Second-"); ok {
			var secs int64
			for _, r := range rest {
				if r < '0' || r > '9' {
					secs = -1
					break
				}
				secs = secs*10 + int64(r-'0')
			}
			if secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return DefaultLockTimeout
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return "", false
}
