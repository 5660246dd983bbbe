// Package ir defines the SSA intermediate representation for the
// shader back-end.
//
// The IR is the canonical form handed over by a front-end lowering
// pipeline (GLSL/SPIR-V/HLSL are all out of scope here) and consumed
// by the analysis and register-allocation passes.
//
// # Structure
//
// A Function owns three arenas:
//   - Values: SSA data produced by instructions or literal constants
//   - Instructions: opcode + sources + destinations records
//   - Blocks: ordered instruction sequences ended by a terminator
//
// All objects are identified by dense integer handles (ValueID,
// InstrID, BlockID). Identities are never reused within a compile, so
// analyses can key side tables and bitsets directly by handle.
//
// # Pipeline
//
// The typical back-end pipeline is:
//
//	front-end IR → cfg → liveness → loops → regalloc → encoding
//
// The ir package maintains the def/use graph through all rewrites
// (ReplaceAllUses, RewriteSource, spill insertion) so that downstream
// passes can always trust Uses and Def to be symmetric.
package ir
