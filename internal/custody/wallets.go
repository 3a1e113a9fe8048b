package custody

import (
	fpmath "CoverPool/internal/math"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTransferRefused   = errors.New("transfer refused")
)

// Wallets is an in-memory custody of the pool asset: one balance per
// participant plus the pool's own vault. It implements core.AssetTransfer.
type Wallets struct {
	mu       sync.Mutex
	balances map[uuid.UUID]fpmath.Amount
	vault    fpmath.Amount
	refuse   map[uuid.UUID]bool
}

func NewWallets() *Wallets {
	return &Wallets{
		balances: make(map[uuid.UUID]fpmath.Amount),
		refuse:   make(map[uuid.UUID]bool),
	}
}

// Mint credits id out of thin air (faucet for tests and dev).
func (w *Wallets) Mint(id uuid.UUID, amount fpmath.Amount) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[id] = w.balances[id].Add(amount)
}

func (w *Wallets) BalanceOf(id uuid.UUID) fpmath.Amount {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[id]
}

// Vault is the asset the pool holds.
func (w *Wallets) Vault() fpmath.Amount {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.vault
}

// SetVault replaces the pool's holding. The daemon uses it after
// recovery, when the journal says what the pool holds.
func (w *Wallets) SetVault(amount fpmath.Amount) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.vault = amount
}

// Refuse makes every transfer touching id fail until cleared.
func (w *Wallets) Refuse(id uuid.UUID, refuse bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if refuse {
		w.refuse[id] = true
	} else {
		delete(w.refuse, id)
	}
}

func (w *Wallets) TransferIn(ctx context.Context, from uuid.UUID, amount fpmath.Amount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.refuse[from] {
		return fmt.Errorf("%w: %s", ErrTransferRefused, from)
	}
	bal := w.balances[from]
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientFunds, from, bal, amount)
	}
	w.balances[from] = bal.Sub(amount)
	w.vault = w.vault.Add(amount)
	return nil
}

func (w *Wallets) TransferOut(ctx context.Context, to uuid.UUID, amount fpmath.Amount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.refuse[to] {
		return fmt.Errorf("%w: %s", ErrTransferRefused, to)
	}
	if w.vault.LessThan(amount) {
		return fmt.Errorf("%w: vault holds %s, needs %s", ErrInsufficientFunds, w.vault, amount)
	}
	w.vault = w.vault.Sub(amount)
	w.balances[to] = w.balances[to].Add(amount)
	return nil
}
