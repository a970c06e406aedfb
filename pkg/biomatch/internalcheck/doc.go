// Package internalcheck holds source-level policy tests for the biomatch
// packages. The tests parse the module's own source and fail on patterns
// that leak or mishandle key material. It is not intended for import by
// applications; use the public API under pkg/biomatch instead.
package internalcheck
