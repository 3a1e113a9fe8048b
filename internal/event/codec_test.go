package event_test

import (
	"CoverPool/internal/event"
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/state"
	"CoverPool/internal/testutil"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

var (
	fixedCommand = uuid.MustParse("6f1c2a9e-0000-4000-8000-000000000001")
	fixedCaller  = uuid.MustParse("6f1c2a9e-0000-4000-8000-000000000002")
	fixedOther   = uuid.MustParse("6f1c2a9e-0000-4000-8000-000000000003")
)

func fixedHeader() event.Header {
	return event.Header{CommandID: fixedCommand, CallerID: fixedCaller, AtWeek: 7}
}

// === Test: Every command type round-trips through DecodeCommand ===

func TestDecodeCommand_RoundTrip(t *testing.T) {
	amount := testutil.Amount(t, "1000")
	commands := []event.Command{
		&event.Setup{Header: fixedHeader(), Manager: fixedCaller, Committee: []uuid.UUID{fixedOther}, Threshold: 1},
		&event.AddPolicy{Header: fixedHeader(), CollateralRatio: 500_000, WeeklyPremium: 10_000, Name: "smart contract", Terms: "ipfs://terms"},
		&event.Deposit{Header: fixedHeader(), Amount: amount},
		&event.RequestWithdraw{Header: fixedHeader(), Shares: amount},
		&event.AdvancePending{Header: fixedHeader(), Provider: fixedOther},
		&event.AdvanceReady{Header: fixedHeader(), Provider: fixedOther},
		&event.Buy{Header: fixedHeader(), PolicyID: 2, Amount: amount, StartWeek: 8, EndWeek: 12, MaxPremium: testutil.Amount(t, "40")},
		&event.AccruePremium{Header: fixedHeader(), PolicyID: 2},
		&event.Refund{Header: fixedHeader(), PolicyID: 2, CoverageWeek: 9, Buyer: fixedOther},
		&event.Propose{Header: fixedHeader(), Payload: state.ChangeThreshold{Threshold: 3}},
		&event.Vote{Header: fixedHeader(), RequestID: 4, Support: true},
		&event.Execute{Header: fixedHeader(), RequestID: 4},
	}
	if len(commands) != len(event.AllCommandTypes()) {
		t.Fatalf("test covers %d types, want %d", len(commands), len(event.AllCommandTypes()))
	}

	for _, cmd := range commands {
		t.Run(cmd.CommandType().String(), func(t *testing.T) {
			data, err := json.Marshal(cmd)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			decoded, err := event.DecodeCommand(cmd.CommandType(), data)
			if err != nil {
				t.Fatalf("DecodeCommand: %v", err)
			}
			if decoded.IdempotencyKey() != cmd.IdempotencyKey() {
				t.Errorf("key: got %s, want %s", decoded.IdempotencyKey(), cmd.IdempotencyKey())
			}
			if decoded.Caller() != fixedCaller || decoded.Week() != 7 {
				t.Errorf("header: got (%s, %d)", decoded.Caller(), decoded.Week())
			}
			again, err := json.Marshal(decoded)
			if err != nil {
				t.Fatalf("re-marshal: %v", err)
			}
			if string(again) != string(data) {
				t.Errorf("re-encoded form differs:\n%s\n%s", data, again)
			}
		})
	}
}

func TestDecodeCommand_StampedFlagNotEncoded(t *testing.T) {
	d := &event.Deposit{Header: fixedHeader(), Amount: fpmath.NewAmount(1)}
	d.StampWeek(9)

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := event.DecodeCommand(event.CommandTypeDeposit, data)
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	if decoded.WasStamped() {
		t.Error("stamped flag leaked into the wire form")
	}
	if decoded.Week() != 9 {
		t.Errorf("got week %d, want 9", decoded.Week())
	}
}

func TestDecodeCommand_Errors(t *testing.T) {
	if _, err := event.DecodeCommand(event.CommandTypeUnknown, []byte(`{}`)); err == nil {
		t.Error("unknown type should fail")
	}
	if _, err := event.DecodeCommand(event.CommandTypeDeposit, []byte(`{"amount":"abc"}`)); err == nil {
		t.Error("bad amount should fail")
	}
	if _, err := event.DecodeCommand(event.CommandTypePropose, []byte(`{"kind":"Nope","payload":{}}`)); err == nil {
		t.Error("unknown request kind should fail")
	}
	if _, err := json.Marshal(&event.Propose{Header: fixedHeader()}); err == nil {
		t.Error("propose without payload should not encode")
	}
}

func TestParseCommandType(t *testing.T) {
	for _, ct := range event.AllCommandTypes() {
		if got := event.ParseCommandType(ct.String()); got != ct {
			t.Errorf("ParseCommandType(%q) = %v, want %v", ct.String(), got, ct)
		}
	}
	if got := event.ParseCommandType("Liquidate"); got != event.CommandTypeUnknown {
		t.Errorf("got %v, want Unknown", got)
	}
}

// === Test: Wire format is stable ===

func TestCommandWireFormat_Golden(t *testing.T) {
	deposit, err := json.Marshal(&event.Deposit{Header: fixedHeader(), Amount: testutil.Amount(t, "1000")})
	if err != nil {
		t.Fatalf("marshal deposit: %v", err)
	}
	testutil.AssertGolden(t, "deposit.json", deposit)

	propose, err := json.Marshal(&event.Propose{
		Header:  fixedHeader(),
		Payload: state.ClaimPayout{PolicyID: 0, Amount: testutil.Amount(t, "250.5"), Recipient: fixedOther},
	})
	if err != nil {
		t.Fatalf("marshal propose: %v", err)
	}
	testutil.AssertGolden(t, "propose_claim.json", propose)
}
