package common

import "math/big"

// ResourceKind enumerates the three resources a transaction may bound.
type ResourceKind int

const (
	ResourceL1Gas ResourceKind = iota
	ResourceL2Gas
	ResourceL1DataGas
)

// ResourceBound is one (max_amount, max_price_per_unit) pair, §3 "Transaction".
type ResourceBound struct {
	MaxAmount        uint64
	MaxPricePerUnit  *big.Int
}

// ResourceBounds carries the resource-bound triple, or a legacy max_fee in
// place of the triple for pre-fee-market transaction versions.
type ResourceBounds struct {
	L1Gas     ResourceBound
	L2Gas     ResourceBound
	L1DataGas ResourceBound

	// LegacyMaxFee is set instead of the triple above for legacy
	// transaction versions that only ever specified a single fee cap.
	LegacyMaxFee *big.Int
}

// IsLegacy reports whether this transaction predates the resource-bound
// fee market and only carries a max_fee.
func (r ResourceBounds) IsLegacy() bool {
	return r.LegacyMaxFee != nil
}

// MaxL2GasPrice returns the L2 gas price cap, 0 for legacy transactions
// (callers must special-case IsLegacy before relying on price ordering).
func (r ResourceBounds) MaxL2GasPrice() *big.Int {
	if r.IsLegacy() || r.L2Gas.MaxPricePerUnit == nil {
		return big.NewInt(0)
	}
	return r.L2Gas.MaxPricePerUnit
}

// TransactionVersion is the Starknet transaction wire version tag.
type TransactionVersion uint8

// TransactionKind discriminates the four transaction families of §3.
type TransactionKind int

const (
	TxInvoke TransactionKind = iota
	TxDeclare
	TxDeployAccount
	TxL1Handler
)

func (k TransactionKind) String() string {
	switch k {
	case TxInvoke:
		return "INVOKE"
	case TxDeclare:
		return "DECLARE"
	case TxDeployAccount:
		return "DEPLOY_ACCOUNT"
	case TxL1Handler:
		return "L1_HANDLER"
	default:
		return "UNKNOWN"
	}
}

// Transaction is the common shape of all four transaction kinds; consumers
// that need kind-specific payloads type-switch on Kind.
type Transaction struct {
	Kind    TransactionKind
	Hash    Hash
	Sender  Address
	Nonce   Nonce
	Bounds  ResourceBounds
	Tip     *big.Int // optional; nil means unset
	Version TransactionVersion
	// Signature is opaque to every subsystem in this repository; only the
	// (delegated) VM verifies it.
	Signature [][]byte
	// Payload carries kind-specific fields (calldata, class, etc.) that no
	// component here inspects.
	Payload []byte
}

// TotalBytes is the size accounting unit the mempool bounds capacity by.
func (t *Transaction) TotalBytes() int {
	n := FeltBytes*3 + 8 + 8 + 1
	for _, s := range t.Signature {
		n += len(s)
	}
	n += len(t.Payload)
	return n
}

// AccountState is the committed view of one account, §3.
type AccountState struct {
	Address       Address
	CommittedNonce Nonce
}
