package ledger

import (
	fpmath "CoverPool/internal/math"

	"github.com/google/uuid"
)

// BatchContext identifies the command a batch is generated for
type BatchContext struct {
	EventRef string
	Sequence int64
	Week     int64
}

// leg is one transfer of a batch: Amount moves from From to To.
type leg struct {
	from, to AccountKey
	amount   fpmath.Amount
	jt       JournalType
}

// JournalGenerator creates balanced journal batches for pool operations.
// Zero-amount legs are dropped; a batch whose legs are all zero is nil.
type JournalGenerator struct{}

func NewJournalGenerator() *JournalGenerator {
	return &JournalGenerator{}
}

func (jg *JournalGenerator) build(ctx BatchContext, legs ...leg) *Batch {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:  batchID,
		EventRef: ctx.EventRef,
		Sequence: ctx.Sequence,
		Week:     ctx.Week,
		Journals: make([]Journal, 0, len(legs)),
	}

	for _, l := range legs {
		if l.amount.Sign() <= 0 {
			continue
		}
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      ctx.EventRef,
			Sequence:      ctx.Sequence,
			DebitAccount:  l.to,
			CreditAccount: l.from,
			Amount:        l.amount,
			JournalType:   l.jt,
			Week:          ctx.Week,
		})
	}

	if len(batch.Journals) == 0 {
		return nil
	}
	return batch
}

// GenerateDeposit moves funds: user:wallet → system:capital
func (jg *JournalGenerator) GenerateDeposit(ctx BatchContext, provider uuid.UUID, amount fpmath.Amount) *Batch {
	return jg.build(ctx, leg{NewUserAccountKey(provider), CapitalAccount, amount, JournalTypeDeposit})
}

// GenerateWithdrawalPayout moves funds: system:capital → user:wallet.
// The withdrawal fee never leaves capital, so only the net is journaled.
func (jg *JournalGenerator) GenerateWithdrawalPayout(ctx BatchContext, provider uuid.UUID, net fpmath.Amount) *Batch {
	return jg.build(ctx, leg{CapitalAccount, NewUserAccountKey(provider), net, JournalTypeWithdrawalPayout})
}

// GeneratePremiumPaid moves funds: user:wallet → system:premium_escrow
func (jg *JournalGenerator) GeneratePremiumPaid(ctx BatchContext, buyer uuid.UUID, premium fpmath.Amount) *Batch {
	return jg.build(ctx, leg{NewUserAccountKey(buyer), PremiumEscrowAccount, premium, JournalTypePremiumPaid})
}

// GenerateAccrual drains escrowed premium into capital (pool share and
// fee1), the manager's wallet (fee2) and the refund reserve.
func (jg *JournalGenerator) GenerateAccrual(
	ctx BatchContext,
	manager uuid.UUID,
	pool, fee1, fee2, refund fpmath.Amount,
) *Batch {
	return jg.build(ctx,
		leg{PremiumEscrowAccount, CapitalAccount, pool, JournalTypePremiumAccrued},
		leg{PremiumEscrowAccount, CapitalAccount, fee1, JournalTypeManagementFee1},
		leg{PremiumEscrowAccount, NewUserAccountKey(manager), fee2, JournalTypeManagementFee2},
		leg{PremiumEscrowAccount, RefundReserveAccount, refund, JournalTypeRefundReserved},
	)
}

// GenerateRefund moves funds: system:refund_reserve → user:wallet
func (jg *JournalGenerator) GenerateRefund(ctx BatchContext, buyer uuid.UUID, amount fpmath.Amount) *Batch {
	return jg.build(ctx, leg{RefundReserveAccount, NewUserAccountKey(buyer), amount, JournalTypeRefundPaid})
}

// GenerateClaimPayout moves funds: system:capital → user:wallet
func (jg *JournalGenerator) GenerateClaimPayout(ctx BatchContext, recipient uuid.UUID, amount fpmath.Amount) *Batch {
	return jg.build(ctx, leg{CapitalAccount, NewUserAccountKey(recipient), amount, JournalTypeClaimPayout})
}
