// Package sigcache implements the thinking-signature cache: a bounded,
// process-wide table binding opaque reasoning signatures to the model
// family that produced them, keyed so that entries from one conversation
// cannot resurrect signatures into another.
package sigcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/kestrel-labs/antigravity-gateway/internal/ir"
)

// Family identifies which model family produced a reasoning signature.
type Family string

const (
	FamilyUnknown Family = ""
	FamilyClaude  Family = "claude"
	FamilyGemini  Family = "gemini"
)

// SkipValidation is the upstream's documented "skip validation" sentinel,
// attached to a tool call in place of a signature that cannot be trusted.
const SkipValidation = ir.SkipThoughtSignatureValidator

// MinSignatureLength is the length heuristic below which a non-sentinel
// signature is treated as too short to be genuine.
const MinSignatureLength = 50

// MaxEntries bounds the cache so a long-running process cannot grow this
// table without limit.
const MaxEntries = 4096

type key struct {
	sessionID string
	signature string
}

type entry struct {
	key        key
	family     Family
	insertedAt time.Time
}

// Cache is a bounded, session-scoped LRU of signature -> family bindings.
// The zero value is not usable; construct with New.
type Cache struct {
	mu       sync.Mutex
	maxSize  int
	ll       *list.List // list of *entry, front = most recently used
	elements map[key]*list.Element
}

// New creates an empty cache bounded at MaxEntries.
func New() *Cache {
	return NewSized(MaxEntries)
}

// NewSized creates an empty cache bounded at the given entry count, for
// tests that want to exercise eviction without allocating 4096 entries.
func NewSized(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = MaxEntries
	}
	return &Cache{
		maxSize:  maxSize,
		ll:       list.New(),
		elements: make(map[key]*list.Element),
	}
}

// Remember inserts or refreshes the (sessionID, signature) -> family binding.
func (c *Cache) Remember(sessionID, signature string, family Family) {
	if signature == "" || family == FamilyUnknown {
		return
	}
	k := key{sessionID: sessionID, signature: signature}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.elements[k]; ok {
		el.Value.(*entry).family = family
		el.Value.(*entry).insertedAt = time.Now()
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{key: k, family: family, insertedAt: time.Now()})
	c.elements[k] = el

	for c.ll.Len() > c.maxSize {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.elements, oldest.Value.(*entry).key)
	}
}

// Lookup returns the family bound to (sessionID, signature), if present.
func (c *Cache) Lookup(sessionID, signature string) (Family, bool) {
	if signature == "" {
		return FamilyUnknown, false
	}
	k := key{sessionID: sessionID, signature: signature}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.elements[k]
	if !ok {
		return FamilyUnknown, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).family, true
}

// HasFamily reports whether any live entry for sessionID was produced by
// the given family, used to detect cross-model conversation history.
func (c *Cache) HasFamily(sessionID string, family Family) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.ll.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.key.sessionID == sessionID && e.family == family {
			return true
		}
	}
	return false
}

// IsValidSignature reports whether sig is either the documented skip
// sentinel or long enough to plausibly be a genuine opaque signature.
// This is a cheap heuristic, not a cryptographic check: signatures are
// opaque and must not be introspected beyond this length gate.
func IsValidSignature(sig string) bool {
	if sig == SkipValidation {
		return true
	}
	return len(sig) >= MinSignatureLength
}

// Clear empties the cache. Intended for tests.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll = list.New()
	c.elements = make(map[key]*list.Element)
}

// Len reports the number of live entries, for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
