// Package control implements the controllers driven by the bridge's
// tick loop:
//
//   - [TrajectoryController]: accepts follow-trajectory goals over the
//     action protocol, steps the claimed joints through time-stamped
//     waypoints, and streams per-joint feedback.
//   - [StateBroadcaster]: publishes raw joint state periodically; it
//     accepts no goals and claims no joints.
//
// Controllers are constructed with their resolved joint set and
// collaborators injected; they hold no global state. All mutation runs
// on the tick goroutine, with incoming goals latched into a mailbox
// consumed at the start of the next tick; cancels only flip goal
// status, so they are acknowledged where they arrive.
package control
