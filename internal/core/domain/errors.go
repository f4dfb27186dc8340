package domain

import "errors"

var (
	ErrNotConnected       = errors.New("upstream not connected")
	ErrShuttingDown       = errors.New("relay shutting down")
	ErrAuthFailed         = errors.New("upstream authentication failed")
	ErrAuthTimeout        = errors.New("upstream authentication timed out")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrStreamNotFound     = errors.New("stream not found")
	ErrStageNotReady      = errors.New("inference stage not ready")
)
