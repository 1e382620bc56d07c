package sequence

import "errors"

var (
	ErrNilProcessor   = errors.New("nil processor")
	ErrNilID          = errors.New("nil processor id")
	ErrAlreadyOwned   = errors.New("processor already has a parent")
	ErrUnknownSlot    = errors.New("unknown parameter slot")
	ErrLinkNotFound   = errors.New("no link starting at processor")
	ErrCycle          = errors.New("link would create a cycle")
	ErrTypeMismatch   = errors.New("input type doesn't match")
	ErrPropagation    = errors.New("link slot out of range")
	ErrExecutionFault = errors.New("processor execution fault")
)
