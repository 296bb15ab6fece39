package messenger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// DeliveryError classifies messaging API failures as transient/permanent.
type DeliveryError struct {
	Method     string
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *DeliveryError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 5)
	parts = append(parts, "delivery error")

	if e.Method != "" {
		parts = append(parts, e.Method)
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *DeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// RateLimitedError is returned when the destination asks the caller to back off.
type RateLimitedError struct {
	Method     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("rate limited on %s: retry after %s", e.Method, e.RetryAfter)
}

// PermissionError means the bot lacks a right in the target chat, e.g. managing topics.
type PermissionError struct {
	Method  string
	Message string
}

func (e *PermissionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("permission denied on %s: %s", e.Method, e.Message)
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var rateErr *RateLimitedError
	if errors.As(err, &rateErr) {
		return true
	}

	var permErr *PermissionError
	if errors.As(err, &permErr) {
		return false
	}

	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return deliveryErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// RetryAfter extracts the back-off hint of a rate-limited error.
func RetryAfter(err error) (time.Duration, bool) {
	var rateErr *RateLimitedError
	if errors.As(err, &rateErr) {
		return rateErr.RetryAfter, true
	}
	return 0, false
}
