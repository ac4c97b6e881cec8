// Package scheduler runs the reminder tick loop.
//
// Once per cadence (every minute by default) a tick:
//   - reads the whole task collection
//   - captures now once
//   - sends a reminder for every pending task scheduled at or before now,
//     with bounded concurrency and a per-send timeout
//   - waits for every send, then writes all outcomes in one store write
//
// A failed send leaves the task pending, so it is retried on the next tick.
// Ticks never overlap: cron skips a trigger while the previous tick runs,
// and Tick itself is serialized.
package scheduler
