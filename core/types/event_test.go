package types

import "testing"

func TestEventAccessors(t *testing.T) {
	ev := &Event{Type: "lending.loan.opened", Attributes: map[string]string{
		"loanId":   " 7 ",
		"offerId":  "x",
		"lender":   "alice",
		"borrower": "alice",
	}}
	if got := ev.ID("loanId"); got != 7 {
		t.Fatalf("loanId: got %d", got)
	}
	if got := ev.ID("offerId"); got != 0 {
		t.Fatalf("malformed id should be zero, got %d", got)
	}
	parties := ev.Participants("admin", "lender", "borrower", "lender")
	if len(parties) != 2 {
		t.Fatalf("expected 2 participants, got %v", parties)
	}
	if parties[0] != (Participant{Role: "lender", Address: "alice"}) || parties[1].Role != "borrower" {
		t.Fatalf("unexpected participants %v", parties)
	}
	var nilEvent *Event
	if nilEvent.Attr("loanId") != "" || nilEvent.ID("loanId") != 0 {
		t.Fatalf("nil event must read as empty")
	}
}
