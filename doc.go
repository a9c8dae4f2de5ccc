// Package workq provides a finite, at-least-once work queue backed by a
// shared Redis instance. Items are opaque byte payloads distributed across
// independent worker processes that coordinate only through Redis atomic
// operations.
//
// A Queue owns four Redis lists derived from its name — pending,
// processing, errors, and error messages — plus a lease key namespace and
// a rate-limit counter namespace. Leasing an item atomically moves it from
// pending to processing and records a time-bounded lease owned by this
// process's session. Items whose lease expires without completion are
// reclaimed by the optional janitor (package workq/janitor).
//
// # Quick start
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	q := workq.New(client, "dicom_folders")
//
//	if err := q.Put(ctx, payload); err != nil { ... }
//
//	item, err := q.Lease(ctx, workq.WithLeaseTTL(30*time.Second))
//	if item != nil {
//	    if process(item) == nil {
//	        q.Complete(ctx, item)
//	    } else {
//	        q.Fail(ctx, item, "processing failed")
//	    }
//	}
//
// The queue is finite: as long as producers stop adding work after
// consumers start, consumers can detect completion with IsEmpty.
//
// A Queue is not safe for concurrent use by multiple goroutines; each
// worker constructs its own instance (hence the per-instance session
// identifier). Cross-process mutual exclusion is delegated entirely to
// Redis command atomicity.
package workq
