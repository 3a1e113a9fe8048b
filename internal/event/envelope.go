package event

import (
	"github.com/google/uuid"
)

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeSetup
	CommandTypeAddPolicy
	CommandTypeDeposit
	CommandTypeRequestWithdraw
	CommandTypeAdvancePending
	CommandTypeAdvanceReady
	CommandTypeBuy
	CommandTypeAccruePremium
	CommandTypeRefund
	CommandTypePropose
	CommandTypeVote
	CommandTypeExecute
)

var commandTypeNames = map[CommandType]string{
	CommandTypeSetup:           "Setup",
	CommandTypeAddPolicy:       "AddPolicy",
	CommandTypeDeposit:         "Deposit",
	CommandTypeRequestWithdraw: "RequestWithdraw",
	CommandTypeAdvancePending:  "AdvancePending",
	CommandTypeAdvanceReady:    "AdvanceReady",
	CommandTypeBuy:             "Buy",
	CommandTypeAccruePremium:   "AccruePremium",
	CommandTypeRefund:          "Refund",
	CommandTypePropose:         "Propose",
	CommandTypeVote:            "Vote",
	CommandTypeExecute:         "Execute",
}

func (ct CommandType) String() string {
	if name, ok := commandTypeNames[ct]; ok {
		return name
	}
	return "Unknown"
}

// ParseCommandType maps a wire name back to its CommandType
func ParseCommandType(name string) CommandType {
	for ct, n := range commandTypeNames {
		if n == name {
			return ct
		}
	}
	return CommandTypeUnknown
}

// AllCommandTypes lists every known type in declaration order
func AllCommandTypes() []CommandType {
	out := make([]CommandType, 0, len(commandTypeNames))
	for ct := CommandTypeSetup; ct <= CommandTypeExecute; ct++ {
		out = append(out, ct)
	}
	return out
}

// EventEnvelope wraps every applied command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	CommandType CommandType

	Caller uuid.UUID

	// Versioned input week (NOT wall-clock)
	Week int64

	// JSON-encoded command
	Payload []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Command is the interface all command payloads must implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	CommandType() CommandType

	// Caller is the authenticated identity submitting the command
	Caller() uuid.UUID

	// Week is the pool week the command executes in
	Week() int64

	// StampWeek sets the week when the submitter left it empty
	StampWeek(week int64)

	// WasStamped reports whether the week came from StampWeek
	WasStamped() bool
}

// Header carries the fields common to every command
type Header struct {
	CommandID uuid.UUID `json:"command_id"`
	CallerID  uuid.UUID `json:"caller"`
	AtWeek    int64     `json:"week"`
	// The week was supplied by the ingestion shell's clock
	Stamped bool `json:"-"`
}

func (h *Header) IdempotencyKey() string { return h.CommandID.String() }
func (h *Header) Caller() uuid.UUID      { return h.CallerID }
func (h *Header) Week() int64            { return h.AtWeek }

func (h *Header) StampWeek(week int64) {
	h.AtWeek = week
	h.Stamped = true
}

func (h *Header) WasStamped() bool { return h.Stamped }

// NewHeader returns a header with a fresh command id
func NewHeader(caller uuid.UUID, week int64) Header {
	return Header{CommandID: uuid.New(), CallerID: caller, AtWeek: week}
}
