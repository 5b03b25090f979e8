// Package app holds application-level wiring that does not belong to a
// single adapter.
package app
