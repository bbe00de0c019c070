package beam

import "container/heap"

// candidatePool keeps the best capacity hypotheses offered to it,
// evicting the current worst on overflow instead of collecting and
// re-sorting the whole candidate set each round. Ordering is score
// ascending with creation order breaking ties, which is total because
// sequence numbers are unique.
type candidatePool struct {
	heap hypHeap
	cap  int
}

func newCandidatePool(capacity int) *candidatePool {
	return &candidatePool{
		heap: make(hypHeap, 0, capacity+1),
		cap:  capacity,
	}
}

func (p *candidatePool) offer(h *Hypothesis) {
	if len(p.heap) < p.cap {
		heap.Push(&p.heap, h)
		return
	}
	if worse(h, p.heap[0]) {
		return
	}
	p.heap[0] = h
	heap.Fix(&p.heap, 0)
}

// drain empties the pool in rank order, best hypothesis first.
func (p *candidatePool) drain() []*Hypothesis {
	out := make([]*Hypothesis, len(p.heap))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&p.heap).(*Hypothesis)
	}
	return out
}

// worse reports whether a ranks strictly below b.
func worse(a, b *Hypothesis) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.seq > b.seq
}

// hypHeap is a worst-first heap so the eviction candidate sits at the
// root.
type hypHeap []*Hypothesis

func (h hypHeap) Len() int           { return len(h) }
func (h hypHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h hypHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *hypHeap) Push(x any) { *h = append(*h, x.(*Hypothesis)) }

func (h *hypHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}
