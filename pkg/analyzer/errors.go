package analyzer

import "github.com/pkg/errors"

var (
	// ErrInvalidOperand is returned for an instruction index outside the
	// function, an instruction that does not belong to it, or an unknown
	// register name.
	ErrInvalidOperand = errors.New("invalid operand")
	// ErrInvalidArgument is returned when an operation is asked about an
	// instruction of the wrong kind.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned when a lookup has no answer.
	ErrNotFound = errors.New("not found")
)
