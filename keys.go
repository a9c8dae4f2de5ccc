package workq

// Redis key naming for a work queue. All keys are derived from the queue
// name by concatenation, so one name owns a flat namespace:
//
//	{name}                        pending list
//	{name}:processing             processing list
//	{name}:errors                 error list
//	{name}:error_messages         error-message list (index-aligned)
//	{name}:leased_by_session:{d}  lease key for item digest d
//	{name}:rate_limit:{t}         lease admission counter for bucket t

// Keys holds the derived key names for one queue. The zero value is not
// usable; construct with KeysFor.
type Keys struct {
	Pending       string
	Processing    string
	Errors        string
	ErrorMessages string

	leasePrefix string
	ratePrefix  string
}

// KeysFor derives the key set for the given queue name.
func KeysFor(name string) Keys {
	return Keys{
		Pending:       name,
		Processing:    name + ":processing",
		Errors:        name + ":errors",
		ErrorMessages: name + ":error_messages",
		leasePrefix:   name + ":leased_by_session:",
		ratePrefix:    name + ":rate_limit:",
	}
}

// Lease returns the lease key for an item digest.
func (k Keys) Lease(digest string) string { return k.leasePrefix + digest }

// RateLimitPrefix returns the prefix for the queue's admission counter
// keys; the limiter appends the bucket timestamp.
func (k Keys) RateLimitPrefix() string { return k.ratePrefix }
