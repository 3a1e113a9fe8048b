package event

import (
	"CoverPool/internal/state"
	"encoding/json"
	"fmt"
)

// Propose opens a governance request
type Propose struct {
	Header
	Payload state.Payload
}

func (*Propose) CommandType() CommandType { return CommandTypePropose }

type proposeWire struct {
	Header
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (p *Propose) MarshalJSON() ([]byte, error) {
	if p.Payload == nil {
		return nil, fmt.Errorf("%w: propose %s: nil payload", state.ErrInvalidParameter, p.CommandID)
	}
	raw, err := state.EncodePayload(p.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(proposeWire{Header: p.Header, Kind: p.Payload.Kind().String(), Payload: raw})
}

func (p *Propose) UnmarshalJSON(data []byte) error {
	var w proposeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, err := state.ParseRequestKind(w.Kind)
	if err != nil {
		return err
	}
	payload, err := state.DecodePayload(kind, w.Payload)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", w.Kind, err)
	}
	p.Header = w.Header
	p.Payload = payload
	return nil
}

type Vote struct {
	Header
	RequestID int64 `json:"request_id"`
	Support   bool  `json:"support"`
}

func (*Vote) CommandType() CommandType { return CommandTypeVote }

// Execute is permissionless once a request has enough support
type Execute struct {
	Header
	RequestID int64 `json:"request_id"`
}

func (*Execute) CommandType() CommandType { return CommandTypeExecute }
