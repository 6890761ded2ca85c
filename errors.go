package rx

import (
	sdkerrors "cosmossdk.io/errors"
)

var (
	codespace = "rx"

	ErrNilObserver     = sdkerrors.Register(codespace, 1, "observer must not be nil")
	ErrNilWork         = sdkerrors.Register(codespace, 2, "scheduled work must not be nil")
	ErrNilObservable   = sdkerrors.Register(codespace, 3, "observable must not be nil")
	ErrSchedulerClosed = sdkerrors.Register(codespace, 4, "scheduler is closed")
	ErrTimeout         = sdkerrors.Register(codespace, 5, "observable timed out")
	ErrHandlerPanic    = sdkerrors.Register(codespace, 6, "handler panicked")
	ErrRetryExhausted  = sdkerrors.Register(codespace, 7, "retry exhausted")
	ErrNoSuchElement   = sdkerrors.Register(codespace, 8, "observable completed without emitting")
)
