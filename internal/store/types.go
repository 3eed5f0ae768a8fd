package store

import "time"

// Run is one stored analysis run.
type Run struct {
	ID          string
	CreatedAt   time.Time
	DataDir     string
	BitLength   int
	Devices     int
	Algorithm   string
	InterHDMean *float64
	Errors      int
}

// DeviceMetrics holds the headline numbers of one device in one run.
type DeviceMetrics struct {
	RunID        string
	DeviceID     string
	Samples      int
	SkippedLines int
	HWMean       *float64
	IntraHDMean  *float64
	FlipMean     *float64
	MaskedBits   int
}

// FingerprintRecord is a stored device fingerprint.
type FingerprintRecord struct {
	RunID         string
	DeviceID      string
	Algorithm     string
	Digest        string
	ReferenceBits int
	Masked        int
	CreatedAt     time.Time
}
