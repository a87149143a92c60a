package database

import "errors"

// The rejection reasons a block or transaction can be discarded for.
// Local rejections never abort the process; they surface here so the
// owning participant can log the offending id and move on.
var (
	ErrInvalidSignature     = errors.New("transaction signature absent or does not verify")
	ErrInsufficientFunds    = errors.New("transaction total exceeds sender balance")
	ErrReplayedNonce        = errors.New("transaction nonce already spent")
	ErrOutOfOrderNonce      = errors.New("transaction nonce ahead of sender account")
	ErrInvalidProof         = errors.New("block hash does not meet the target")
	ErrMissingParent        = errors.New("block parent not known yet")
	ErrReplayFailure        = errors.New("block transactions failed to re-apply")
	ErrDuplicateBlock       = errors.New("block already known")
	ErrDuplicateTransaction = errors.New("transaction already recorded")
)
