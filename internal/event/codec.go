package event

import (
	"encoding/json"
	"fmt"
)

// NewCommand returns an empty command of type ct, ready to unmarshal into.
func NewCommand(ct CommandType) (Command, error) {
	switch ct {
	case CommandTypeSetup:
		return &Setup{}, nil
	case CommandTypeAddPolicy:
		return &AddPolicy{}, nil
	case CommandTypeDeposit:
		return &Deposit{}, nil
	case CommandTypeRequestWithdraw:
		return &RequestWithdraw{}, nil
	case CommandTypeAdvancePending:
		return &AdvancePending{}, nil
	case CommandTypeAdvanceReady:
		return &AdvanceReady{}, nil
	case CommandTypeBuy:
		return &Buy{}, nil
	case CommandTypeAccruePremium:
		return &AccruePremium{}, nil
	case CommandTypeRefund:
		return &Refund{}, nil
	case CommandTypePropose:
		return &Propose{}, nil
	case CommandTypeVote:
		return &Vote{}, nil
	case CommandTypeExecute:
		return &Execute{}, nil
	default:
		return nil, fmt.Errorf("unknown command type: %d", ct)
	}
}

// DecodeCommand unmarshals a JSON command body of type ct.
func DecodeCommand(ct CommandType, data []byte) (Command, error) {
	cmd, err := NewCommand(ct)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ct, err)
	}
	return cmd, nil
}

// DecodeEnvelope recovers the command recorded in an envelope.
func DecodeEnvelope(env *EventEnvelope) (Command, error) {
	return DecodeCommand(env.CommandType, env.Payload)
}
