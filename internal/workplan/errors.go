package workplan

import "errors"

// ErrIllegalWorkKind and related errors describe contract violations and configuration failures.
var (
	ErrIllegalWorkKind  = errors.New("illegal work kind for entity")
	ErrUnknownOverride  = errors.New("unknown interceptor override")
	ErrNoBinding        = errors.New("no document builder bound for entity type")
	ErrMissingIdentity  = errors.New("change event carries no identity")
	ErrMissingInstance  = errors.New("entity instance required")
	ErrNotPrepared      = errors.New("work plan not prepared")
	ErrPlanConsumed     = errors.New("work plan already consumed")
	ErrInvalidBinding   = errors.New("invalid binding")
	ErrUnresolvableType = errors.New("cannot resolve entity type")
)
