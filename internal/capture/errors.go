package capture

import "errors"

// Sentinel errors for the taxonomy in §7: callers use errors.Is to decide
// retry/refresh/abort policy instead of matching on message text.
var (
	// ErrDiscovery covers network/parse/unknown-playability failures surfaced
	// by InfoProbe. The controller decides whether to retry or abort.
	ErrDiscovery = errors.New("capture: discovery failed")

	// ErrNotLive means the target is not a livestream, fatally.
	ErrNotLive = errors.New("capture: video is not a livestream")

	// ErrUnplayable wraps a terminal playability status (UNPLAYABLE/ERROR).
	ErrUnplayable = errors.New("capture: video is unplayable")

	// ErrNoWait is returned when the caller declined to wait for a scheduled
	// stream.
	ErrNoWait = errors.New("capture: opted not to wait for scheduled stream")

	// ErrTrailingFragment marks a 404 within two of max_seq on an offline
	// stream: not an error, a normal end-of-capture signal for one worker.
	ErrTrailingFragment = errors.New("capture: trailing fragment not produced")

	// ErrAuthExpired marks an HTTP 403 on a fragment fetch.
	ErrAuthExpired = errors.New("capture: download URL expired")

	// ErrWriteExhausted is raised when the assembler exhausts its write-retry
	// budget and must raise global cancellation.
	ErrWriteExhausted = errors.New("capture: exhausted write retries")

	// ErrNoQuality means none of the requested quality labels ended up
	// available once adaptiveFormats were known.
	ErrNoQuality = errors.New("capture: no requested quality is available")
)
