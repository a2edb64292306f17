// Package runs implements the run lifecycle state machine.
//
// States:
//   - open -> live -> ended | cancelled
//   - open -> cancelled
//
// Every transition runs under a per-(action, run) lock, re-reads the run,
// checks the caller against the organizer gate and the transition table, and
// commits with a compare-and-set on the stored status. Side effects fan out
// after the commit and cannot fail the call.
//
// Errors:
//   - *TransitionError carries a closed ErrorCode for business rejections.
//   - *InProgressError means another transition of the same kind holds the
//     lock; it has no code.
package runs
