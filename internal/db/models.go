package db

import (
	"errors"

	"github.com/darjeelingmomo/momoshop/internal/models"
)

type Order = models.Order
type OrderStatus = models.OrderStatus
type Notification = models.Notification

const (
	StatusPending       = models.StatusPending
	StatusPaid          = models.StatusPaid
	StatusPaymentFailed = models.StatusPaymentFailed
	StatusCancelled     = models.StatusCancelled
)

var (
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrCheckoutSessionBound    = errors.New("checkout session already bound")
	ErrNotificationNotFound    = errors.New("notification not found")
	// ErrNotificationLeaseLost means the claim being settled is no longer the
	// current one: the lease lapsed and the row was reclaimed or settled.
	ErrNotificationLeaseLost   = errors.New("notification lease lost")
)

const defaultListLimit = 100

// ListFilter narrows administrative order listings. Zero values mean no filter.
type ListFilter struct {
	Status OrderStatus
	Limit  int
	Offset int
}

func (f ListFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 500 {
		return defaultListLimit
	}
	return f.Limit
}

func validateChange(change models.StatusChange) error {
	if !models.CanTransition(change.From, change.To) {
		return ErrInvalidStatusTransition
	}
	return nil
}
