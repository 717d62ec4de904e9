package cache

// LRUList maintains cache eviction order using an intrusive doubly linked
// list with sentinel head/tail nodes.
type LRUList struct {
	head  *lruNode
	tail  *lruNode
	nodes map[string]*lruNode
}

type lruNode struct {
	key        string
	prev, next *lruNode
}

// NewLRUList creates a new empty LRU list.
func NewLRUList() *LRUList {
	head := &lruNode{}
	tail := &lruNode{}
	head.next = tail
	tail.prev = head
	return &LRUList{head: head, tail: tail, nodes: make(map[string]*lruNode)}
}

// AddToFront adds a key to the front of the LRU list, or moves it there if
// it is already present.
func (l *LRUList) AddToFront(key string) {
	if node, exists := l.nodes[key]; exists {
		l.unlink(node)
		l.pushFront(node)
		return
	}
	node := &lruNode{key: key}
	l.nodes[key] = node
	l.pushFront(node)
}

// MoveToFront marks an existing key as most recently used.
func (l *LRUList) MoveToFront(key string) {
	if node, exists := l.nodes[key]; exists {
		l.unlink(node)
		l.pushFront(node)
	}
}

// Remove removes a key from the LRU list.
func (l *LRUList) Remove(key string) {
	if node, exists := l.nodes[key]; exists {
		l.unlink(node)
		delete(l.nodes, key)
	}
}

// RemoveOldest removes and returns the least recently used key, or "" when
// the list is empty.
func (l *LRUList) RemoveOldest() string {
	if len(l.nodes) == 0 {
		return ""
	}
	oldest := l.tail.prev
	l.unlink(oldest)
	delete(l.nodes, oldest.key)
	return oldest.key
}

// Size returns the number of tracked keys.
func (l *LRUList) Size() int {
	return len(l.nodes)
}

func (l *LRUList) pushFront(node *lruNode) {
	node.next = l.head.next
	node.prev = l.head
	l.head.next.prev = node
	l.head.next = node
}

func (l *LRUList) unlink(node *lruNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
}
