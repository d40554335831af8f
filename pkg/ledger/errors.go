// Copyright 2025 Archive Origin

package ledger

import "errors"

// ErrNothingPending is returned when a sealing pass finds no unsealed
// capture records. Callers should treat this as success, not failure.
var ErrNothingPending = errors.New("no pending capture records to seal")
