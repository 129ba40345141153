package centralsync

import "time"

// Config mirrors §6's sync knobs. CLI/file loading is a spec Non-goal;
// callers build it directly.
type Config struct {
	BlocksMaxStreamSize           int
	BlockPropagationSleep         time.Duration
	PendingSleepDuration          time.Duration
	BaseLayerPropagationSleep     time.Duration
	RecoverableErrorSleepDuration time.Duration
	ProgressCheckInterval         time.Duration // SLEEP_TIME_SYNC_PROGRESS

	CollectPendingData   bool
	StoreSierrasAndCasms bool
	VerifyBlocks         bool

	EventChannelBuffer int
}

func DefaultConfig() Config {
	return Config{
		BlocksMaxStreamSize:           100,
		BlockPropagationSleep:         500 * time.Millisecond,
		PendingSleepDuration:          500 * time.Millisecond,
		BaseLayerPropagationSleep:     5 * time.Second,
		RecoverableErrorSleepDuration: 2 * time.Second,
		ProgressCheckInterval:         30 * time.Second,
		StoreSierrasAndCasms:          true,
		VerifyBlocks:                  true,
		EventChannelBuffer:            32,
	}
}
