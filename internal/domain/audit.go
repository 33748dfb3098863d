package domain

import "time"

// CorrectionMethod records how a quantity drift was repaired.
type CorrectionMethod string

const (
	CorrectionAmend   CorrectionMethod = "amend"
	CorrectionReplace CorrectionMethod = "replace"
)

// CorrectionRecord is one entry of the append-only quantity correction
// history.
type CorrectionRecord struct {
	ID         int64
	Symbol     string
	Rung       int
	OldQty     float64
	NewQty     float64
	Method     CorrectionMethod
	OldOrderID int64
	NewOrderID int64 // Differs from OldOrderID only for cancel+replace
	RecordedAt time.Time
}

// FillRegistration stores the expected outcome for one take-profit rung so a
// later fill can be checked against it.
type FillRegistration struct {
	OrderID            int64
	Rung               int
	ExpectedFraction   float64
	SizeAtRegistration float64
	Side               PositionSide
	RegisteredAt       time.Time
	Verified           bool
}

// FillCheckResult is the outcome of comparing a reported fill against its
// registration.
type FillCheckResult struct {
	OrderID          int64
	Rung             int
	ExpectedFraction float64
	ActualFraction   float64
	Mismatch         bool
}

// IdempotencyRecord is the cached outcome of a keyed operation. Records are
// immutable once written; they are only read until they expire.
type IdempotencyRecord struct {
	Key        string
	Result     string // Stable serialization of the operation outcome
	RecordedAt time.Time
}
