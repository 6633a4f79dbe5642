package cache

// node is an entry in the recency list. The head is the most recently used.
type node[V any] struct {
	key        Key
	value      V
	prev, next *node[V]
}

// list is an intrusive doubly-linked recency list. Not safe for concurrent
// use; Cache holds its mutex around every call.
type list[V any] struct {
	head, tail *node[V]
	n          int
}

func (l *list[V]) pushFront(e *node[V]) {
	e.prev = nil
	e.next = l.head
	if l.head != nil {
		l.head.prev = e
	}
	l.head = e
	if l.tail == nil {
		l.tail = e
	}
	l.n++
}

func (l *list[V]) unlink(e *node[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev, e.next = nil, nil
	l.n--
}

func (l *list[V]) touch(e *node[V]) {
	if e == l.head {
		return
	}
	l.unlink(e)
	l.pushFront(e)
}

// popBack removes and returns the least recently used entry, or nil.
func (l *list[V]) popBack() *node[V] {
	e := l.tail
	if e != nil {
		l.unlink(e)
	}
	return e
}
