package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an order error so callers can branch without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindEmptyCart
	KindProductNotFound
	KindPriceMismatch
	KindInsufficientStock
	KindInvalidRequest
	KindOrderCreationFailed
	KindOrderNotFound
	KindInvalidStateTransition
)

var kindNames = map[Kind]string{
	KindUnknown:                "unknown",
	KindEmptyCart:              "empty_cart",
	KindProductNotFound:        "product_not_found",
	KindPriceMismatch:          "price_mismatch",
	KindInsufficientStock:      "insufficient_stock",
	KindInvalidRequest:         "invalid_request",
	KindOrderCreationFailed:    "order_creation_failed",
	KindOrderNotFound:          "order_not_found",
	KindInvalidStateTransition: "invalid_state_transition",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Validation reports whether the caller can fix the request and retry.
func (k Kind) Validation() bool {
	switch k {
	case KindEmptyCart, KindProductNotFound, KindPriceMismatch, KindInsufficientStock, KindInvalidRequest:
		return true
	}
	return false
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrEmptyCart              = &Error{Kind: KindEmptyCart}
	ErrProductNotFound        = &Error{Kind: KindProductNotFound}
	ErrPriceMismatch          = &Error{Kind: KindPriceMismatch}
	ErrInsufficientStock      = &Error{Kind: KindInsufficientStock}
	ErrInvalidRequest         = &Error{Kind: KindInvalidRequest}
	ErrOrderCreationFailed    = &Error{Kind: KindOrderCreationFailed}
	ErrOrderNotFound          = &Error{Kind: KindOrderNotFound}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition}
)

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// CreationFailed wraps cause unless it already is a creation failure.
func CreationFailed(cause error) error {
	if cause == nil {
		return nil
	}
	var de *Error
	if errors.As(cause, &de) && de.Kind == KindOrderCreationFailed {
		return cause
	}
	return &Error{Kind: KindOrderCreationFailed, Msg: "order creation failed", Err: cause}
}

// KindOf returns the innermost meaningful kind in err's chain.
// A creation failure reports the kind of the cause it wraps when there is one.
func KindOf(err error) Kind {
	kind := KindUnknown
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			break
		}
		kind = de.Kind
		err = de.Err
	}
	return kind
}
