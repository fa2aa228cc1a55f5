// Package domain contains core business entities.
package domain

import "errors"

// Admin and lookup errors.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrDeviceExists = errors.New("device already exists")
	ErrNotWritable  = errors.New("tag is not writable")
)

// Modbus transport errors.
var (
	ErrConnectFailed = errors.New("connection failed")
	ErrTimeout       = errors.New("request timed out")
	ErrTransport     = errors.New("transport error")
)

// Wire and conversion errors.
var (
	ErrProtocol        = errors.New("malformed modbus frame")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidLength   = errors.New("invalid data length")
)

// Lifecycle errors.
var (
	ErrStopped = errors.New("service has been stopped")
)
