// Package domain models crowdsourced noise reports and the spatial hotspots
// that aggregate them.
//
// # Reports
//
// A report is an immutable point-in-time observation: a WGS-84 coordinate, a
// decibel reading in [0, 120], and a noise type from a fixed enumeration
// (traffic, construction, events, industrial, other). Reports are created
// once by ingestion and never mutated by aggregation; the moderation status
// field (pending → reviewed → resolved) is owned by an external workflow.
//
// # Hotspots
//
// A hotspot is a mutable rolling aggregate over a geographic neighborhood.
// Its centroid is the position of the first report that founded it and is
// never recomputed — a deliberate fidelity choice, which means the stored
// centroid can drift from the true centroid of absorbed points when later
// reports land off-center. AverageDecibels is the exact arithmetic mean of
// every absorbed reading, maintained incrementally with no decay or
// windowing, and ReportCount >= 1 always holds.
package domain
