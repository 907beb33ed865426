// Package internal holds small helpers shared by the stepauth packages:
// crypto-random identifiers and code generation, and recipient masking for
// challenge responses. Nothing here is part of the public API.
package internal
