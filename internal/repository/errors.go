// Package repository persists the floor change journal. Sentinel errors
// here let handlers distinguish caller mistakes from storage failures.
package repository

import "errors"

// ErrInvalidLimit is returned when a listing is asked for a page size
// outside 1..MaxListLimit. Handlers should translate this into an HTTP 400
// response.
var ErrInvalidLimit = errors.New("invalid limit")
