package quant

import (
	"errors"
	"fmt"
)

// ErrDomain is matched by every DomainError.
var ErrDomain = errors.New("quant: input outside domain")

// DomainError reports an invalid numeric input. Callers can recover by
// correcting the input; nothing has been computed.
type DomainError struct {
	Func string
	Msg  string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Func, e.Msg)
}

func (e *DomainError) Is(target error) bool { return target == ErrDomain }

func domainf(fn, format string, args ...any) error {
	return &DomainError{Func: fn, Msg: fmt.Sprintf(format, args...)}
}
