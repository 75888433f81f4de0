package engine

import "errors"

// Admission rejections. Each maps to one independent validation gate.
var (
	ErrUnknownSymbol     = errors.New("unknown symbol")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidPrice      = errors.New("price must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds or position")
)

var (
	// ErrOrderNotFound is reported for a cancel with no matching pending order.
	ErrOrderNotFound = errors.New("order not found")

	// ErrNotExecutable is returned when a market order passed validation but
	// could not be filled.
	ErrNotExecutable = errors.New("order not executable")
)
