package domain

import (
	"fmt"
	"time"
)

// PaymentResult is the provider-neutral outcome of an online payment.
type PaymentResult int

const (
	ResultUnknown PaymentResult = iota
	ResultPaid
	ResultCancelled
)

func (r PaymentResult) String() string {
	switch r {
	case ResultPaid:
		return "paid"
	case ResultCancelled:
		return "cancelled"
	}
	return "unknown"
}

// MarkProcessing moves a freshly placed order forward once its payment path is settled.
func (o *Order) MarkProcessing(now time.Time) error {
	if o.Status != StatusPending {
		return Errorf(KindInvalidStateTransition, "order %s: %s -> %s", o.OrderNumber, o.Status, StatusProcessing)
	}
	o.Status = StatusProcessing
	o.UpdatedAt = now
	return nil
}

// AttachPaymentLink records the hosted link; the provider code is write-once.
func (o *Order) AttachPaymentLink(linkID, checkoutURL, providerOrderCode string, now time.Time) error {
	if o.Payment.ProviderOrderCode != "" {
		return Errorf(KindInvalidStateTransition, "order %s already has provider order code %s", o.OrderNumber, o.Payment.ProviderOrderCode)
	}
	if o.Payment.Method == MethodCOD {
		return Errorf(KindInvalidStateTransition, "order %s is cash on delivery", o.OrderNumber)
	}
	if linkID == "" || providerOrderCode == "" {
		return fmt.Errorf("order %s: payment link is missing its id or provider order code", o.OrderNumber)
	}
	o.Payment.PaymentLinkID = linkID
	o.Payment.CheckoutURL = checkoutURL
	o.Payment.ProviderOrderCode = providerOrderCode
	o.UpdatedAt = now
	return nil
}

// Cancel is idempotent: a terminal order is left untouched and reported unchanged.
// An order whose payment was already captured cannot be cancelled here.
func (o *Order) Cancel(now time.Time) (bool, error) {
	if o.Status.Terminal() {
		return false, nil
	}
	if o.Payment.Status == PaymentComplete {
		return false, Errorf(KindInvalidStateTransition, "order %s is already paid", o.OrderNumber)
	}
	o.Status = StatusCancelled
	o.Payment.Status = PaymentCancelled
	o.UpdatedAt = now
	return true, nil
}

// Complete marks delivery. Cash on delivery payments are collected at this point.
func (o *Order) Complete(now time.Time) (bool, error) {
	if o.Status == StatusCompleted {
		return false, nil
	}
	if o.Status != StatusProcessing {
		return false, Errorf(KindInvalidStateTransition, "order %s: %s -> %s", o.OrderNumber, o.Status, StatusCompleted)
	}
	if o.Payment.Status != PaymentComplete {
		if o.Payment.Method != MethodCOD {
			return false, Errorf(KindInvalidStateTransition, "order %s has no completed payment", o.OrderNumber)
		}
		o.Payment.Status = PaymentComplete
		o.Payment.PaymentDate = &now
	}
	o.Status = StatusCompleted
	o.CompletedAt = &now
	o.UpdatedAt = now
	return true, nil
}

// ApplyPaymentResult applies a provider callback. Transitions that are not valid
// from the current state are ignored, which makes redelivery harmless.
func (o *Order) ApplyPaymentResult(result PaymentResult, reference string, now time.Time) bool {
	if o.Status.Terminal() {
		return false
	}

	changed := false
	if reference != "" && o.Payment.Status != PaymentComplete && o.Payment.TransactionID != reference {
		o.Payment.TransactionID = reference
		changed = true
	}

	switch result {
	case ResultPaid:
		if o.Status == StatusPending && o.Payment.Status == PaymentPending {
			o.Status = StatusProcessing
			o.Payment.Status = PaymentComplete
			o.Payment.PaymentDate = &now
			changed = true
		}
	case ResultCancelled:
		if o.Payment.Status == PaymentPending {
			o.Status = StatusCancelled
			o.Payment.Status = PaymentCancelled
			changed = true
		}
	}

	if changed {
		o.UpdatedAt = now
	}
	return changed
}

// TransitionTo serves explicit status updates and only allows state machine edges.
func (o *Order) TransitionTo(target OrderStatus, now time.Time) (bool, error) {
	if !target.Valid() {
		return false, Errorf(KindInvalidRequest, "unknown order status %q", target)
	}
	if target == o.Status {
		return false, nil
	}
	switch target {
	case StatusCompleted:
		return o.Complete(now)
	case StatusCancelled:
		if o.Status.Terminal() {
			return false, Errorf(KindInvalidStateTransition, "order %s: %s -> %s", o.OrderNumber, o.Status, target)
		}
		return o.Cancel(now)
	}
	return false, Errorf(KindInvalidStateTransition, "order %s: %s -> %s", o.OrderNumber, o.Status, target)
}
