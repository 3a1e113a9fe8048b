package core

import (
	fpmath "CoverPool/internal/math"
	"context"

	"github.com/google/uuid"
)

// AssetTransfer moves the pool's stable asset between participants and
// the pool. The core calls it before committing any accounting change
// and aborts the command when it fails.
type AssetTransfer interface {
	TransferIn(ctx context.Context, from uuid.UUID, amount fpmath.Amount) error
	TransferOut(ctx context.Context, to uuid.UUID, amount fpmath.Amount) error
}

// noopTransfer accepts every transfer. Used while replaying the event
// log, where the asset movements already happened.
type noopTransfer struct{}

func (noopTransfer) TransferIn(context.Context, uuid.UUID, fpmath.Amount) error  { return nil }
func (noopTransfer) TransferOut(context.Context, uuid.UUID, fpmath.Amount) error { return nil }
