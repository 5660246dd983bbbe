// Package regalloc assigns physical registers to the values of a
// function using linearly constrained register allocation (LCRA).
//
// Interference between two values is expressed as a bias window: a
// small bit-field of forbidden differences between their assigned
// register indices. Vector alignment and overlap rules become window
// bits instead of enumerated register pairs, which keeps the
// constraint matrix compact.
//
// Allocation is iterative: build constraints, solve greedily in value
// declaration order, and when the solver reports a failing value,
// spill a neighbour to thread-local storage and retry. Targets that
// support occupancy scaling are first solved against the lower half of
// the register file so the hardware can run more threads concurrently.
package regalloc
