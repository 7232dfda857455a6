// Package exchange defines the unit of work flowing through Conduit: an
// Exchange carrying a body, headers and properties, plus the endpoint it was
// received from.
//
// An Exchange is owned by exactly one pipeline stage at a time. Stages hand
// it off by reference and never mutate it concurrently.
package exchange
