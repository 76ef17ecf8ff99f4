// Package service implements the business logic of the checkout and
// order lifecycle on top of the repository, the inventory ledger and
// the provider packages.
package service

import (
	"context"

	"github.com/verdandi/shop/internal/domain"
	"github.com/verdandi/shop/internal/repository"
)

// Shared service-level errors.
var (
	ErrCartEmpty           = domain.Errorf(domain.EINVALID, "", "Cart is empty")
	ErrSessionNotReserved  = domain.Errorf(domain.EINVALID, "", "Checkout has no active reservation")
	ErrSessionNotPayable   = domain.Errorf(domain.EINVALID, "", "Checkout is not awaiting payment")
	ErrQuoteChanged        = domain.Errorf(domain.ECONFLICT, "", "Prices changed since the quote; restart checkout")
	ErrCouponNotApplicable = domain.Errorf(domain.EINVALID, "", "Coupon cannot be applied to this cart")
	ErrRefundExceedsTotal  = domain.Errorf(domain.EINVALID, "", "Refund amount exceeds captured amount")
	ErrTrackingRequired    = domain.Errorf(domain.EINVALID, "", "Shipping an order requires carrier and tracking number")
	ErrReasonRequired      = domain.Errorf(domain.EINVALID, "", "Cancellation requires a reason")
)

// Repository is the persistence surface the services need:
// the full query set plus transaction scoping. *repository.Store
// satisfies it.
type Repository interface {
	repository.Querier
	WithTx(ctx context.Context, fn func(q repository.Querier) error) error
}
