package bus

import (
	"testing"

	"github.com/aamakeev/director-extension/internal/game"
)

func TestDecodeWhisper(t *testing.T) {
	ev, ok := DecodeWhisper([]byte(`{
		"type": "director.menu.reallocate",
		"userId": "u1",
		"username": "Alice",
		"fromItemId": "a",
		"toItemId": "b",
		"amount": 10.9
	}`))
	if !ok {
		t.Fatal("reallocate envelope not decoded")
	}
	realloc, ok := ev.(game.ReallocateEvent)
	if !ok {
		t.Fatalf("decoded type = %T", ev)
	}
	if realloc.UserID != "u1" || realloc.FromItemID != "a" || realloc.ToItemID != "b" {
		t.Fatalf("event = %+v", realloc)
	}
	if realloc.Amount != 10 {
		t.Fatalf("amount = %d, want floored 10", realloc.Amount)
	}

	ev, ok = DecodeWhisper([]byte(`{"type":"director.command.issue","userId":"u1","commandId":"visual_closeup"}`))
	if !ok {
		t.Fatal("command envelope not decoded")
	}
	if cmd := ev.(game.CommandIssueEvent); cmd.CommandID != "visual_closeup" {
		t.Fatalf("event = %+v", cmd)
	}

	if _, ok := DecodeWhisper([]byte(`{"type":"director.state.request"}`)); !ok {
		t.Fatal("state request envelope not decoded")
	}
	if _, ok := DecodeWhisper([]byte(`{"type":"something.else"}`)); ok {
		t.Fatal("unknown envelope type was not dropped")
	}
	if _, ok := DecodeWhisper([]byte(`not json`)); ok {
		t.Fatal("malformed envelope was not dropped")
	}
}

func TestDecodeSpend(t *testing.T) {
	ev, ok := DecodeSpend([]byte(`{
		"tokensAmount": 25.7,
		"tokensSpendData": {
			"action": "director.menu.tip",
			"userId": "u1",
			"username": "Alice",
			"itemId": "dance"
		}
	}`))
	if !ok {
		t.Fatal("tip spend not decoded")
	}
	if ev.UserID != "u1" || ev.ItemID != "dance" || ev.Amount != 25 {
		t.Fatalf("event = %+v", ev)
	}

	if _, ok := DecodeSpend([]byte(`{"tokensAmount":10,"tokensSpendData":{"action":"other.purchase"}}`)); ok {
		t.Fatal("foreign spend action was not ignored")
	}
	if _, ok := DecodeSpend([]byte(`broken`)); ok {
		t.Fatal("malformed spend was not dropped")
	}
}
