package mempool

import "time"

// Config mirrors §6's mempool knobs. Loading it from flags/files is a spec
// Non-goal; callers build it directly.
type Config struct {
	CapacityInBytes      uint64
	EnableFeeEscalation  bool
	FeeEscalationPercent uint64 // p in "tip >= old.tip * (1 + p/100)"
	TransactionTTL       time.Duration
	DeclareDelay         time.Duration
	RetentionLimit       int // commit_block retention counter threshold
}

func DefaultConfig() Config {
	return Config{
		CapacityInBytes:      64 << 20,
		EnableFeeEscalation:  true,
		FeeEscalationPercent: 10,
		TransactionTTL:       1 * time.Hour,
		DeclareDelay:         2 * time.Second,
		RetentionLimit:       10,
	}
}
