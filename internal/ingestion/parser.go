package ingestion

import (
	"CoverPool/internal/clock"
	"CoverPool/internal/event"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrUnknownCommand = errors.New("unknown command type")
	ErrMalformed      = errors.New("malformed command")
)

// CommandTypeFromSubject resolves coverpool.commands.<Type>.
func CommandTypeFromSubject(subject string) (event.CommandType, error) {
	name, ok := strings.CutPrefix(subject, CommandSubjectPrefix+".")
	if !ok || strings.Contains(name, ".") {
		return event.CommandTypeUnknown, fmt.Errorf("%w: subject %q", ErrUnknownCommand, subject)
	}
	return ParseCommandName(name)
}

// ParseCommandName maps a wire name such as "Deposit" to its type.
func ParseCommandName(name string) (event.CommandType, error) {
	ct := event.ParseCommandType(name)
	if ct == event.CommandTypeUnknown {
		return ct, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return ct, nil
}

// weekProbe tells an explicit week 0 apart from a missing one.
type weekProbe struct {
	Week *int64 `json:"week"`
}

// ParseCommand decodes a JSON body into a typed command. command_id and
// caller are required. When the body carries no week the command is
// stamped with the clock's current week; an explicit week is checked
// against the engine's clock when the command runs.
func ParseCommand(ct event.CommandType, data []byte, clk clock.Clock) (event.Command, error) {
	cmd, err := event.DecodeCommand(ct, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if cmd.IdempotencyKey() == uuid.Nil.String() {
		return nil, fmt.Errorf("%w: %s: command_id required", ErrMalformed, ct)
	}
	if cmd.Caller() == uuid.Nil {
		return nil, fmt.Errorf("%w: %s: caller required", ErrMalformed, ct)
	}

	var probe weekProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if probe.Week == nil {
		cmd.StampWeek(clk.CurrentWeek())
	} else if *probe.Week < 0 {
		return nil, fmt.Errorf("%w: %s: negative week %d", ErrMalformed, ct, *probe.Week)
	}
	return cmd, nil
}
