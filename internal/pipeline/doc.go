// Package pipeline turns vehicle sightings into dwell updates and alerts.
//
// Service holds the per-vehicle state transitions. Consumer feeds it from
// the event bus, keeping per-key order by routing every key to one lane.
package pipeline
