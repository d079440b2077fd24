package game

import (
	"errors"
	"fmt"

	"nightroad.app/internal/protocol"
)

// RuleError is a hard rejection: the request is refused as a whole and no
// state changes or broadcasts happen.
type RuleError struct {
	Code    string
	Message string
}

func (e *RuleError) Error() string { return e.Message }

func hardf(code, format string, args ...any) *RuleError {
	return &RuleError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsRuleError unwraps err into a RuleError if it is one.
func AsRuleError(err error) (*RuleError, bool) {
	var re *RuleError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

func errUnsupported(action string) *RuleError {
	return hardf(protocol.ErrUnknownAction, "unsupported action: %s", action)
}
