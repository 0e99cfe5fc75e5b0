// Package propagate computes sound one-step reachable-set bounds for the
// closed loop observation -> neural controller -> control clamp ->
// dynamics step.
//
// Four interchangeable strategies implement the [Propagator] contract,
// in increasing precision and cost:
//
//   - [IBP]: interval bound propagation, pure interval arithmetic
//   - [FastLin]: linear relaxation with the lower slope tied to the upper
//   - [CROWN]: linear relaxation with adaptive lower slopes
//   - [SDP]: semidefinite relaxation of the exact verification problem,
//     delegated to the internal ADMM solver
//
// The affine dynamics step is bounded with the same machinery as the
// network layers: the linear-relaxation strategies keep symbolic bounds
// on the control in terms of the state and substitute them through
// x' = At*x + Bt*u + Ct before concretizing, while IBP and SDP compose
// intervals. Every strategy's output is a superset of the true one-step
// image of its input region; tightness is the only thing that varies.
package propagate
