package mempool

import "errors"

// Rejection reasons for add_tx, §4.3.
var (
	ErrDuplicateTransaction = errors.New("mempool: duplicate transaction")
	ErrDuplicateNonce       = errors.New("mempool: duplicate nonce")
	ErrNonceTooOld          = errors.New("mempool: nonce too old")
	ErrMempoolFull          = errors.New("mempool: full")
)
