package acd

import "time"

// RFC 5227 §1.1, §2.1 timing and retry constants. Tuning lets a caller
// override these per Host for lab or interop testing; production use
// should leave Tuning zero-valued so these defaults apply.
const (
	ProbeWait         = 1 * time.Second
	ProbeNum          = 3
	ProbeMin          = 1 * time.Second
	ProbeMax          = 2 * time.Second
	AnnounceWait      = 2 * time.Second
	AnnounceNum       = 2
	AnnounceInterval  = 2 * time.Second
	MaxConflicts      = 10
	RateLimitInterval = 60 * time.Second
	DefendInterval    = 10 * time.Second
)
