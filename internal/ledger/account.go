package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// System sub-types
	SubTypeCapital       // pool base value
	SubTypePremiumEscrow // premium paid, not yet accrued
	SubTypeRefundReserve // premium held back for over-capacity weeks
)

var subTypeNames = map[AccountSubType]string{
	SubTypeWallet:        "wallet",
	SubTypeCapital:       "capital",
	SubTypePremiumEscrow: "premium_escrow",
	SubTypeRefundReserve: "refund_reserve",
}

// AccountKey is the in-memory key for balance tracking. User accounts
// mirror an external party's net flow with the pool: a provider that
// deposited 100 has a wallet balance of -100.
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte
	SubType  AccountSubType
}

// NewUserAccountKey creates a wallet key for an external party
func NewUserAccountKey(userID uuid.UUID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  SubTypeWallet,
	}
}

// NewSystemAccountKey creates a key for a pool-owned account
func NewSystemAccountKey(subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
	}
}

var (
	CapitalAccount       = NewSystemAccountKey(SubTypeCapital)
	PremiumEscrowAccount = NewSystemAccountKey(SubTypePremiumEscrow)
	RefundReserveAccount = NewSystemAccountKey(SubTypeRefundReserve)
)

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s", uid.String(), k.subTypeName())
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s", k.subTypeName())
	}
	return "unknown"
}

func (k AccountKey) String() string { return k.AccountPath() }

func (k AccountKey) subTypeName() string {
	if name, ok := subTypeNames[k.SubType]; ok {
		return name
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 3 && parts[0] == "user":
		uid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse account %q: %w", path, err)
		}
		if parts[2] != subTypeNames[SubTypeWallet] {
			return AccountKey{}, fmt.Errorf("parse account %q: unknown user sub-type %q", path, parts[2])
		}
		return NewUserAccountKey(uid), nil
	case len(parts) == 2 && parts[0] == "system":
		for st, name := range subTypeNames {
			if name == parts[1] && st != SubTypeWallet {
				return NewSystemAccountKey(st), nil
			}
		}
		return AccountKey{}, fmt.Errorf("parse account %q: unknown system account", path)
	}
	return AccountKey{}, fmt.Errorf("parse account %q: malformed path", path)
}
