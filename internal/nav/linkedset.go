package nav

import "container/list"

// linkedSet is an ordered set with O(1) membership, front/back insertion,
// move-to-front and removal. It backs both the dirty tile queue and the
// most-recently-used list of active tiles.
type linkedSet[K comparable] struct {
	l     *list.List
	index map[K]*list.Element
}

func newLinkedSet[K comparable]() *linkedSet[K] {
	return &linkedSet[K]{l: list.New(), index: map[K]*list.Element{}}
}

func (s *linkedSet[K]) Len() int { return len(s.index) }

func (s *linkedSet[K]) Contains(k K) bool {
	_, ok := s.index[k]
	return ok
}

// PushFront adds k at the front; reports false if k was already present.
func (s *linkedSet[K]) PushFront(k K) bool {
	if _, ok := s.index[k]; ok {
		return false
	}
	s.index[k] = s.l.PushFront(k)
	return true
}

func (s *linkedSet[K]) PushBack(k K) bool {
	if _, ok := s.index[k]; ok {
		return false
	}
	s.index[k] = s.l.PushBack(k)
	return true
}

// Touch moves k to the front, inserting it when absent.
func (s *linkedSet[K]) Touch(k K) {
	if e, ok := s.index[k]; ok {
		s.l.MoveToFront(e)
		return
	}
	s.index[k] = s.l.PushFront(k)
}

func (s *linkedSet[K]) Remove(k K) bool {
	e, ok := s.index[k]
	if !ok {
		return false
	}
	s.l.Remove(e)
	delete(s.index, k)
	return true
}

func (s *linkedSet[K]) Front() (K, bool) {
	e := s.l.Front()
	if e == nil {
		var zero K
		return zero, false
	}
	return e.Value.(K), true
}

// PopBackWhere removes and returns the entry closest to the back for which
// skip reports false.
func (s *linkedSet[K]) PopBackWhere(skip func(K) bool) (K, bool) {
	for e := s.l.Back(); e != nil; e = e.Prev() {
		k := e.Value.(K)
		if skip != nil && skip(k) {
			continue
		}
		s.l.Remove(e)
		delete(s.index, k)
		return k, true
	}
	var zero K
	return zero, false
}

// Keys returns the entries front to back.
func (s *linkedSet[K]) Keys() []K {
	out := make([]K, 0, len(s.index))
	for e := s.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(K))
	}
	return out
}

func (s *linkedSet[K]) Clear() {
	s.l.Init()
	clear(s.index)
}
