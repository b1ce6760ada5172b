package confronts

import "sync"

type msgKey struct {
	chatID    int64
	messageID int
}

// authorIndex is a bounded FIFO map from message to author. Old entries are
// evicted in insertion order once the capacity is reached.
type authorIndex struct {
	mu    sync.Mutex
	cap   int
	items map[msgKey]int64
	order []msgKey
	head  int
}

func newAuthorIndex(capacity int) *authorIndex {
	if capacity < 1 {
		capacity = 1
	}
	return &authorIndex{
		cap:   capacity,
		items: make(map[msgKey]int64, capacity),
		order: make([]msgKey, 0, capacity),
	}
}

func (a *authorIndex) put(chatID int64, messageID int, authorID int64) {
	k := msgKey{chatID: chatID, messageID: messageID}
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.items[k]; exists {
		a.items[k] = authorID
		return
	}
	if len(a.items) >= a.cap {
		// evict oldest
		old := a.order[a.head]
		delete(a.items, old)
		a.order[a.head] = k
		a.head = (a.head + 1) % a.cap
	} else {
		a.order = append(a.order, k)
	}
	a.items[k] = authorID
}

func (a *authorIndex) get(chatID int64, messageID int) (int64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.items[msgKey{chatID: chatID, messageID: messageID}]
	return id, ok
}
