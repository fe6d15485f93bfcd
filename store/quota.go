package store

import (
	"encoding/json"
)

// Band classifies storage pressure against the quota budget
type Band string

const (
	BandOK       Band = "ok"
	BandWarning  Band = "warning"
	BandCritical Band = "critical"
)

// Usage reports how much of the quota budget the serialized collection
// occupies
type Usage struct {
	SizeBytes  int64   `json:"sizeBytes"`
	Percentage float64 `json:"percentage"`
	Band       Band    `json:"band"`
}

// QuotaMonitor measures the serialized size of a collection against a
// fixed budget. It is a pure function of the collection and never
// mutates state; it backs both the UI usage display and the eviction
// trigger inside Persist.
type QuotaMonitor struct {
	BudgetBytes      int64
	WarningFraction  float64
	CriticalFraction float64
}

// Measure serializes the collection and classifies the result
func (m QuotaMonitor) Measure(c *Collection) Usage {
	// A collection of plain string/int fields cannot fail to marshal
	data, _ := json.Marshal(c)

	size := int64(len(data))
	pct := 0.0
	if m.BudgetBytes > 0 {
		pct = float64(size) / float64(m.BudgetBytes)
	}

	band := BandOK
	switch {
	case pct > m.CriticalFraction:
		band = BandCritical
	case pct > m.WarningFraction:
		band = BandWarning
	}

	return Usage{
		SizeBytes:  size,
		Percentage: pct,
		Band:       band,
	}
}
