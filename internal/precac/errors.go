package precac

import "errors"

var (
	// ErrInvalidConfig indicates scheduler settings that cannot be applied.
	ErrInvalidConfig = errors.New("invalid precac config")
	// ErrUnknownRadio indicates a radio index that was never registered.
	ErrUnknownRadio = errors.New("unknown radio")
	// ErrIntermediateDFS indicates an intermediate channel that itself needs CAC.
	ErrIntermediateDFS = errors.New("intermediate channel must be non-DFS")
	// ErrDomainNoPrecac indicates a forest operation on a domain without precac.
	ErrDomainNoPrecac = errors.New("regulatory domain does not use precac")
	// ErrNotLegacy indicates a legacy-only call while legacy precac is inactive.
	ErrNotLegacy = errors.New("legacy precac not active")
)
