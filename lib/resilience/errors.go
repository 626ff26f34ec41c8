package resilience

import apperrors "github.com/go-i2p/redispool/lib/errors"

// ErrCircuitOpen is returned when an attempt is rejected by an open circuit.
var ErrCircuitOpen = apperrors.ErrCircuitOpen
