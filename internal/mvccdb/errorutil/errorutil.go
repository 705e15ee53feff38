package errorutil

import (
	"fmt"
	"strings"
)

// Coordinates holds positional information (segment ID, offset, transaction ID)
// used in error formatting across the mvccdb packages.
type Coordinates struct {
	// SegID is the log segment ID where the error occurred.
	SegID *uint64

	// Offset is the byte offset within a segment where the error occurred.
	Offset *int64

	// TrxID is the transaction the failing entry belongs to.
	TrxID *int32
}

// At builds coordinates for a log position.
func At(segID uint64, offset int64) *Coordinates {
	return &Coordinates{SegID: &segID, Offset: &offset}
}

// WithTrx returns a copy of c that also carries a transaction id.
func (c *Coordinates) WithTrx(trxID int32) *Coordinates {
	out := &Coordinates{TrxID: &trxID}
	if c != nil {
		out.SegID = c.SegID
		out.Offset = c.Offset
	}
	return out
}

// FormatCoordinates returns the non-nil values as "seg=X at=Y trx=Z".
// Returns an empty string if all coordinates are nil.
func (c *Coordinates) FormatCoordinates() string {
	if c == nil {
		return ""
	}

	var parts []string
	if c.SegID != nil {
		parts = append(parts, fmt.Sprintf("seg=%d", *c.SegID))
	}
	if c.Offset != nil {
		parts = append(parts, fmt.Sprintf("at=%d", *c.Offset))
	}
	if c.TrxID != nil {
		parts = append(parts, fmt.Sprintf("trx=%d", *c.TrxID))
	}
	return strings.Join(parts, " ")
}

// String implements the Stringer interface for Coordinates.
func (c *Coordinates) String() string {
	return c.FormatCoordinates()
}
