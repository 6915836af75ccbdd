// Package heatmap owns presence detection over ranging-sensor distance maps.
//
// Responsibilities: orientation normalisation of incoming frames, per-cell
// validity classification, global and per-region threshold evaluation, and
// edge-triggered presence notifications.
// Key types: Engine, Config, Grid, EvaluationResult, Event.
//
// Dependency rule: no transport, SQL or HTTP code is allowed in this
// package. Frames arrive through Ingest and notifications leave through an
// EventSink.
package heatmap
