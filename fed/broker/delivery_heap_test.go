package broker

import (
	"testing"

	"github.com/tesp-cosim/cosim/fed"
)

// TestDeliveryHeap_StampOrdering tests that deliveries come out in stamp order
func TestDeliveryHeap_StampOrdering(t *testing.T) {
	h := newDeliveryHeap()
	h.schedule(fed.Delivery{Kind: fed.DeliveryValue, Key: "b", Stamp: 100})
	h.schedule(fed.Delivery{Kind: fed.DeliveryValue, Key: "a", Stamp: 50})
	h.schedule(fed.Delivery{Kind: fed.DeliveryValue, Key: "c", Stamp: 150})

	if got := h.earliest(); got != 50 {
		t.Errorf("earliest = %d, want 50", got)
	}
	out := h.popUntil(100)
	if len(out) != 2 || out[0].Key != "a" || out[1].Key != "b" {
		t.Fatalf("popUntil(100) = %+v, want a then b", out)
	}
	if h.Len() != 1 || h.earliest() != 150 {
		t.Errorf("remaining heap: len=%d earliest=%d, want 1 and 150", h.Len(), h.earliest())
	}
}

// TestDeliveryHeap_ValuesBeforeMessages tests the kind tie-breaker at equal stamps
func TestDeliveryHeap_ValuesBeforeMessages(t *testing.T) {
	h := newDeliveryHeap()
	h.schedule(fed.Delivery{Kind: fed.DeliveryMessage, Key: "msg", Stamp: 10})
	h.schedule(fed.Delivery{Kind: fed.DeliveryValue, Key: "val", Stamp: 10})

	out := h.popUntil(10)
	if len(out) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(out))
	}
	if out[0].Kind != fed.DeliveryValue || out[1].Kind != fed.DeliveryMessage {
		t.Errorf("expected value before message, got %v then %v", out[0].Kind, out[1].Kind)
	}
}

// TestDeliveryHeap_SendOrderWithinStamp tests the sequence tie-breaker
func TestDeliveryHeap_SendOrderWithinStamp(t *testing.T) {
	h := newDeliveryHeap()
	for _, v := range []string{"1", "2", "3", "4"} {
		h.schedule(fed.Delivery{Kind: fed.DeliveryValue, Key: "k", Stamp: 0, Payload: []byte(v)})
	}
	out := h.popUntil(0)
	for i, d := range out {
		if want := string(rune('1' + i)); string(d.Payload) != want {
			t.Errorf("delivery %d payload = %s, want %s", i, d.Payload, want)
		}
		if i > 0 && d.Seq <= out[i-1].Seq {
			t.Errorf("sequence numbers not increasing at %d", i)
		}
	}
}

func TestDeliveryHeap_Empty(t *testing.T) {
	h := newDeliveryHeap()
	if h.earliest() != fed.MaxTime {
		t.Errorf("empty heap earliest = %d, want MaxTime", h.earliest())
	}
	if out := h.popUntil(fed.MaxTime); len(out) != 0 {
		t.Errorf("expected nothing from empty heap, got %d", len(out))
	}
}
