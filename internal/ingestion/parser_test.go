package ingestion_test

import (
	"CoverPool/internal/clock"
	"CoverPool/internal/event"
	"CoverPool/internal/ingestion"
	"encoding/json"
	"errors"
	"testing"
)

const (
	commandID = "550e8400-e29b-41d4-a716-446655440000"
	callerID  = "660e8400-e29b-41d4-a716-446655440001"
	buyerID   = "770e8400-e29b-41d4-a716-446655440002"
)

func body(t *testing.T, v map[string]interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestParseDeposit(t *testing.T) {
	data := body(t, map[string]interface{}{
		"command_id": commandID,
		"caller":     callerID,
		"week":       12,
		"amount":     "10000.5",
	})

	cmd, err := ingestion.ParseCommand(event.CommandTypeDeposit, data, clock.Fixed(40))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	d, ok := cmd.(*event.Deposit)
	if !ok {
		t.Fatalf("expected *event.Deposit, got %T", cmd)
	}
	if d.Amount.String() != "10000.5" {
		t.Errorf("amount: got %s, want 10000.5", d.Amount)
	}
	if d.Week() != 12 {
		t.Errorf("week: got %d, want 12", d.Week())
	}
	if d.WasStamped() {
		t.Error("explicit week should not be marked stamped")
	}
	if d.IdempotencyKey() != commandID {
		t.Errorf("key: got %s, want %s", d.IdempotencyKey(), commandID)
	}
}

func TestParseBuy(t *testing.T) {
	data := body(t, map[string]interface{}{
		"command_id":  commandID,
		"caller":      callerID,
		"policy_id":   3,
		"amount":      "15000",
		"start_week":  41,
		"end_week":    45,
		"max_premium": "700",
	})

	cmd, err := ingestion.ParseCommand(event.CommandTypeBuy, data, clock.Fixed(40))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	b := cmd.(*event.Buy)
	if b.PolicyID != 3 || b.StartWeek != 41 || b.EndWeek != 45 {
		t.Errorf("got policy=%d range=[%d,%d)", b.PolicyID, b.StartWeek, b.EndWeek)
	}
	if b.MaxPremium.String() != "700" {
		t.Errorf("max_premium: got %s, want 700", b.MaxPremium)
	}
	if b.Week() != 40 || !b.WasStamped() {
		t.Errorf("missing week should be stamped from the clock, got %d stamped=%v", b.Week(), b.WasStamped())
	}
}

func TestParseRefund_ExplicitWeekZero(t *testing.T) {
	data := body(t, map[string]interface{}{
		"command_id":    commandID,
		"caller":        callerID,
		"week":          0,
		"policy_id":     0,
		"coverage_week": 0,
		"buyer":         buyerID,
	})

	cmd, err := ingestion.ParseCommand(event.CommandTypeRefund, data, clock.Fixed(40))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Week() != 0 || cmd.WasStamped() {
		t.Errorf("explicit week 0 must be kept, got %d stamped=%v", cmd.Week(), cmd.WasStamped())
	}
	if got := cmd.(*event.Refund).Buyer.String(); got != buyerID {
		t.Errorf("buyer: got %s, want %s", got, buyerID)
	}
}

func TestParsePropose(t *testing.T) {
	data := body(t, map[string]interface{}{
		"command_id": commandID,
		"caller":     callerID,
		"kind":       "ClaimPayout",
		"payload": map[string]interface{}{
			"policy_id": 1,
			"amount":    "20000",
			"recipient": buyerID,
		},
	})

	cmd, err := ingestion.ParseCommand(event.CommandTypePropose, data, clock.Fixed(5))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	p := cmd.(*event.Propose)
	if p.Payload.Kind().String() != "ClaimPayout" {
		t.Errorf("kind: got %s, want ClaimPayout", p.Payload.Kind())
	}
}

func TestParseCommand_Rejects(t *testing.T) {
	tests := []struct {
		name string
		ct   event.CommandType
		body map[string]interface{}
	}{
		{"missing command_id", event.CommandTypeDeposit, map[string]interface{}{"caller": callerID, "amount": "1"}},
		{"missing caller", event.CommandTypeDeposit, map[string]interface{}{"command_id": commandID, "amount": "1"}},
		{"bad amount", event.CommandTypeDeposit, map[string]interface{}{"command_id": commandID, "caller": callerID, "amount": "ten"}},
		{"negative week", event.CommandTypeVote, map[string]interface{}{"command_id": commandID, "caller": callerID, "week": -1}},
		{"bad uuid", event.CommandTypeAdvanceReady, map[string]interface{}{"command_id": commandID, "caller": callerID, "provider": "nope"}},
		{"unknown kind", event.CommandTypePropose, map[string]interface{}{"command_id": commandID, "caller": callerID, "kind": "Liquidate", "payload": map[string]interface{}{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingestion.ParseCommand(tt.ct, body(t, tt.body), clock.Fixed(1))
			if !errors.Is(err, ingestion.ErrMalformed) {
				t.Errorf("got %v, want ErrMalformed", err)
			}
		})
	}
}

func TestCommandTypeFromSubject(t *testing.T) {
	for _, ct := range event.AllCommandTypes() {
		got, err := ingestion.CommandTypeFromSubject(ingestion.CommandSubject(ct))
		if err != nil || got != ct {
			t.Errorf("subject %s: got (%v, %v)", ingestion.CommandSubject(ct), got, err)
		}
	}

	for _, subject := range []string{"coverpool.commands.Liquidate", "coverpool.events.Deposit", "coverpool.commands.Deposit.x"} {
		if _, err := ingestion.CommandTypeFromSubject(subject); !errors.Is(err, ingestion.ErrUnknownCommand) {
			t.Errorf("subject %s: got %v, want ErrUnknownCommand", subject, err)
		}
	}
}

func TestDefaultSubjects(t *testing.T) {
	subjects := ingestion.DefaultSubjects()
	if len(subjects) != len(event.AllCommandTypes()) {
		t.Fatalf("got %d subjects, want one per command type", len(subjects))
	}
	seen := make(map[string]bool)
	for _, s := range subjects {
		if seen[s.ConsumerName] {
			t.Errorf("duplicate consumer %s", s.ConsumerName)
		}
		seen[s.ConsumerName] = true
		if s.StreamName != ingestion.CommandStream {
			t.Errorf("%s: stream %s, want %s", s.Subject, s.StreamName, ingestion.CommandStream)
		}
	}
	if subjects[0].Subject != "coverpool.commands.Setup" || subjects[0].ConsumerName != "coverpool-setup" {
		t.Errorf("got %+v", subjects[0])
	}
}
