// Package sanitizer normalizes booking input before it is validated and stored.
//
// All functions are idempotent: applying them twice yields the same result.
// Invalid input is never an error here; it is reduced to an empty or shorter
// string and left for the validator to reject.
//
// Normalization includes:
//   - Identifiers: trim surrounding whitespace, drop control characters
//   - Free text: collapse whitespace, drop control characters, cap the length
package sanitizer
