// Package simulation drives smoothly varying heart-rate values for
// simulated devices.
//
// Each enabled device runs one generator goroutine. Every tick the value
// drifts toward target plus a slow sine wave and a little noise. Far from
// the goal it moves at most one BPM per tick; close to it, it eases in
// proportionally. A value is emitted only when its rounded BPM changes.
//
// Emitting publishes the value to the board, merges it into the device
// registry, records it in history and pushes an hr_update event. Nothing is
// emitted for a tombstoned device.
package simulation
