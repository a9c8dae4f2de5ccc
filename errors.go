package workq

import "errors"

var (
	// ErrNoQueues is returned by OpenQueues when the configuration maps
	// no logical queue identifiers.
	ErrNoQueues = errors.New("workq: no queues configured")

	// ErrListMisaligned is returned when the error list and the
	// error-message list are found to have different lengths. The two are
	// pushed together inside a MULTI/EXEC, so a misalignment indicates
	// out-of-band modification of one of the lists.
	ErrListMisaligned = errors.New("workq: error and error-message lists misaligned")
)
