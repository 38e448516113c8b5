package cache

import (
	"container/list"
	"time"
)

// entry is a tier-1 cache entry. It lives until writtenAt+ttl or until it
// falls off the LRU end, whichever comes first. ttl <= 0 never expires.
type entry struct {
	key       string
	value     []byte
	writtenAt time.Time
	ttl       time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && !e.writtenAt.Add(e.ttl).After(now)
}

// lru is a bounded map that keeps access order in a doubly linked list.
// Front is most recently used. It is not safe for concurrent use; Manager
// guards it with its mutex.
type lru struct {
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

func newLRU(capacity int) *lru {
	return &lru{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// get returns the live value for key and marks it most recently used.
// An expired entry is removed and reported as absent.
func (l *lru) get(key string, now time.Time) ([]byte, bool) {
	el, ok := l.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if e.expired(now) {
		l.removeElement(el)
		return nil, false
	}
	l.ll.MoveToFront(el)
	return e.value, true
}

// add inserts or replaces e. When a new key would exceed capacity the least
// recently used entry is evicted first and its key returned.
func (l *lru) add(e *entry) (evicted string, didEvict bool) {
	if el, ok := l.items[e.key]; ok {
		el.Value = e
		l.ll.MoveToFront(el)
		return "", false
	}
	if l.ll.Len() >= l.capacity {
		if back := l.ll.Back(); back != nil {
			evicted = back.Value.(*entry).key
			l.removeElement(back)
			didEvict = true
		}
	}
	l.items[e.key] = l.ll.PushFront(e)
	return evicted, didEvict
}

func (l *lru) remove(key string) bool {
	el, ok := l.items[key]
	if !ok {
		return false
	}
	l.removeElement(el)
	return true
}

// removeMatching drops every key for which match returns true.
func (l *lru) removeMatching(match func(string) bool) int {
	n := 0
	for el := l.ll.Back(); el != nil; {
		prev := el.Prev()
		if match(el.Value.(*entry).key) {
			l.removeElement(el)
			n++
		}
		el = prev
	}
	return n
}

// liveKeys returns keys of unexpired entries, least recently used first.
func (l *lru) liveKeys(now time.Time) []string {
	keys := make([]string, 0, l.ll.Len())
	for el := l.ll.Back(); el != nil; el = el.Prev() {
		if e := el.Value.(*entry); !e.expired(now) {
			keys = append(keys, e.key)
		}
	}
	return keys
}

func (l *lru) purgeExpired(now time.Time) int {
	return l.removeMatching(func(key string) bool {
		return l.items[key].Value.(*entry).expired(now)
	})
}

func (l *lru) len() int { return l.ll.Len() }

func (l *lru) clear() {
	l.ll.Init()
	l.items = make(map[string]*list.Element)
}

func (l *lru) removeElement(el *list.Element) {
	l.ll.Remove(el)
	delete(l.items, el.Value.(*entry).key)
}
