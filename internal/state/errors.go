package state

import "errors"

// Operation failures. Every operation either succeeds completely or
// returns one of these (possibly wrapped) with no state change.
var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidRange         = errors.New("invalid week range")
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrInsufficientShares   = errors.New("insufficient shares")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrWithdrawalInProgress = errors.New("withdrawal in progress")
	ErrNoWithdrawal         = errors.New("no withdrawal request")
	ErrNotReadyYet          = errors.New("not ready yet")
	ErrNotReadyToRefund     = errors.New("not ready to refund")
	ErrAlreadyRefunded      = errors.New("already refunded")
	ErrNoCoverage           = errors.New("no coverage")
	ErrUnknownPolicy        = errors.New("unknown policy")
	ErrUnknownRequest       = errors.New("unknown request")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrAlreadyExecuted      = errors.New("already executed")
	ErrNotEnoughVotes       = errors.New("not enough votes")
	ErrNotConfigured        = errors.New("pool not configured")
	ErrAlreadyConfigured    = errors.New("pool already configured")
	ErrPoolDepleted         = errors.New("pool depleted")
	ErrTransfer             = errors.New("transfer failed")
)
