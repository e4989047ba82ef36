// Package schedule arms per-camera activation windows.
//
// Every schedule write, and process start, re-derives today's start and stop
// instants and replaces the camera's pending pair of one-shot triggers. The
// window is computed for the current day only; a window whose end precedes
// its start, or a camera still running at midnight, is not re-armed for the
// next day unless the optional daily re-arm job is enabled.
//
// Cancelling a trigger never interrupts a job that already fired.
package schedule
