package broker

import (
	"container/heap"
	"sync/atomic"

	"github.com/tesp-cosim/cosim/fed"
)

// Global delivery counter for deterministic tie-breaking
var globalDeliverySeq uint64

func nextSeq() uint64 {
	return atomic.AddUint64(&globalDeliverySeq, 1)
}

// kindPriority orders deliveries that share a stamp: value updates are
// filed before endpoint messages.
var kindPriority = map[fed.DeliveryKind]int{
	fed.DeliveryValue:   0,
	fed.DeliveryMessage: 1,
}

// deliveryHeap is a priority queue of pending deliveries for one federate.
// Ordering: stamp → kind priority → sequence number
type deliveryHeap struct {
	items []fed.Delivery
}

func newDeliveryHeap() *deliveryHeap {
	h := &deliveryHeap{
		items: make([]fed.Delivery, 0),
	}
	heap.Init(h)
	return h
}

// Len implements heap.Interface
func (h *deliveryHeap) Len() int {
	return len(h.items)
}

// Less implements heap.Interface with deterministic ordering
func (h *deliveryHeap) Less(i, j int) bool {
	di, dj := h.items[i], h.items[j]

	if di.Stamp != dj.Stamp {
		return di.Stamp < dj.Stamp
	}

	pi, pj := kindPriority[di.Kind], kindPriority[dj.Kind]
	if pi != pj {
		return pi < pj
	}

	return di.Seq < dj.Seq
}

// Swap implements heap.Interface
func (h *deliveryHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

// Push implements heap.Interface
func (h *deliveryHeap) Push(x any) {
	h.items = append(h.items, x.(fed.Delivery))
}

// Pop implements heap.Interface
func (h *deliveryHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = fed.Delivery{}
	h.items = old[0 : n-1]
	return item
}

// schedule adds a delivery, assigning its sequence number.
func (h *deliveryHeap) schedule(d fed.Delivery) {
	d.Seq = nextSeq()
	heap.Push(h, d)
}

// earliest returns the smallest pending stamp, or fed.MaxTime when empty.
func (h *deliveryHeap) earliest() fed.Time {
	if h.Len() == 0 {
		return fed.MaxTime
	}
	return h.items[0].Stamp
}

// popUntil removes and returns, in order, every delivery stamped <= t.
func (h *deliveryHeap) popUntil(t fed.Time) []fed.Delivery {
	var out []fed.Delivery
	for h.Len() > 0 && h.items[0].Stamp <= t {
		out = append(out, heap.Pop(h).(fed.Delivery))
	}
	return out
}
