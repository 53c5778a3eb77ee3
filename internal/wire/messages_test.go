package wire

import (
	"encoding/json"
	"testing"
)

func TestNotification_Payloads(t *testing.T) {
	var env Inbound
	raw := `{"notifications":[
		{"message":"trade_event","result":[{"instrument":"X","price":1},{"instrument":"Y","price":2}]},
		{"message":"order_book_event","result":{"instrument":"X","bids":[]}}
	]}`
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(env.Notifications) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(env.Notifications))
	}

	trades, err := env.Notifications[0].Payloads()
	if err != nil {
		t.Fatalf("payloads: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trade payloads, got %d", len(trades))
	}
	if got := Instrument(trades[1]); got != "Y" {
		t.Fatalf("instrument = %q, want Y", got)
	}

	book, err := env.Notifications[1].Payloads()
	if err != nil {
		t.Fatalf("payloads: %v", err)
	}
	if len(book) != 1 {
		t.Fatalf("unwrapped result must be a single payload, got %d", len(book))
	}
	if got := Instrument(book[0]); got != "X" {
		t.Fatalf("instrument = %q, want X", got)
	}
}

func TestInbound_ProbeAndReply(t *testing.T) {
	var probe Inbound
	_ = json.Unmarshal([]byte(`{"message":"test_request"}`), &probe)
	if !probe.IsProbe() {
		t.Fatal("expected probe")
	}

	var reply Inbound
	_ = json.Unmarshal([]byte(`{"id":"abc","success":false,"message":"insufficient funds"}`), &reply)
	resp := reply.Response()
	if resp.ID != "abc" || !resp.Failed() || resp.Message != "insufficient funds" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	var noFlag Inbound
	_ = json.Unmarshal([]byte(`{"id":"abc","result":1}`), &noFlag)
	if noFlag.Response().Failed() {
		t.Fatal("missing success flag must not be treated as failure")
	}
}

func TestInstrument_NonObject(t *testing.T) {
	if got := Instrument(json.RawMessage(`42`)); got != "" {
		t.Fatalf("expected empty instrument, got %q", got)
	}
}

func TestNewRequestID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewRequestID()
		if len(id) != IDLength {
			t.Fatalf("id %q has length %d", id, len(id))
		}
		for _, c := range id {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
				t.Fatalf("id %q contains non-alphanumeric %q", id, c)
			}
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}
