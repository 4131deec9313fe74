package cacher

import "time"

// resolvePolicy applies the per-call overrides on top of the configured
// defaults. A nil override means "use the config value". The effective
// timeout of zero means never expire; sliding means every read hit
// resets the entry's deadline to now + timeout.
//
// The policy itself never reads a clock: the backend applies its own
// time at refresh and write.
func resolvePolicy(defaultTimeout time.Duration, defaultSliding bool, timeout *time.Duration, sliding *bool) (time.Duration, bool) {
	effectiveTimeout := defaultTimeout
	if timeout != nil {
		effectiveTimeout = *timeout
	}
	effectiveSliding := defaultSliding
	if sliding != nil {
		effectiveSliding = *sliding
	}
	return effectiveTimeout, effectiveSliding
}
