package service

import (
	"context"
	"fmt"
	"time"

	"storefront-orders/internal/apperror"
	"storefront-orders/internal/models"
	"storefront-orders/internal/store"
	"storefront-orders/internal/util"

	"golang.org/x/sync/errgroup"
)

// List limits
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// FilterMetadata echoes the applied filter and the accepted values
type FilterMetadata struct {
	Applied        AppliedFilters       `json:"applied"`
	Statuses       []models.OrderStatus `json:"availableStatuses"`
	SortFields     []string             `json:"sortFields"`
	CustomerScoped bool                 `json:"customerScoped"`
}

// AppliedFilters is the normalized filter as the query saw it
type AppliedFilters struct {
	Statuses      []models.OrderStatus  `json:"statuses,omitempty"`
	PaymentStatus *models.PaymentStatus `json:"paymentStatus,omitempty"`
	From          *time.Time            `json:"from,omitempty"`
	To            *time.Time            `json:"to,omitempty"`
	MinAmount     *int64                `json:"minAmount,omitempty"`
	MaxAmount     *int64                `json:"maxAmount,omitempty"`
	Search        string                `json:"search,omitempty"`
	SortBy        string                `json:"sortBy"`
	SortOrder     string                `json:"sortOrder"`
}

// ListOrdersResult is a page plus statistics over the whole filtered set
type ListOrdersResult struct {
	Orders     []models.Order          `json:"orders"`
	Pagination models.Pagination       `json:"pagination"`
	Statistics *models.OrderStatistics `json:"statistics"`
	Filters    FilterMetadata          `json:"filters"`
}

// ListOrders returns one page of orders. Customers only ever see their own.
func (s *OrderService) ListOrders(ctx context.Context, f models.OrderFilter, identity *models.Identity) (*ListOrdersResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	if identity == nil {
		return nil, apperror.New(apperror.KindUnauthorized, "sign in to list orders")
	}
	if !identity.IsAdmin() {
		customerID := identity.CustomerID
		f.CustomerID = &customerID
	}
	if err := normalizeFilter(&f); err != nil {
		return nil, err
	}

	var (
		orders []models.Order
		total  int
		stats  *models.OrderStatistics
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		orders, total, err = s.repo.ListOrders(gctx, f)
		return err
	})
	g.Go(func() error {
		var err error
		stats, err = s.repo.OrderStatistics(gctx, f)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to list orders: %w", err))
	}
	if orders == nil {
		orders = []models.Order{}
	}

	return &ListOrdersResult{
		Orders:     orders,
		Pagination: paginate(f.Page, f.Limit, total),
		Statistics: stats,
		Filters: FilterMetadata{
			Applied: AppliedFilters{
				Statuses:      f.Statuses,
				PaymentStatus: f.PaymentStatus,
				From:          f.From,
				To:            f.To,
				MinAmount:     f.MinAmount,
				MaxAmount:     f.MaxAmount,
				Search:        f.Search,
				SortBy:        f.SortBy,
				SortOrder:     f.SortOrder,
			},
			Statuses:       models.AllOrderStatuses(),
			SortFields:     sortFields(),
			CustomerScoped: f.CustomerID != nil,
		},
	}, nil
}

func normalizeFilter(f *models.OrderFilter) error {
	var violations []apperror.FieldViolation
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.Limit == 0:
		f.Limit = DefaultPageSize
	case f.Limit < 0 || f.Limit > MaxPageSize:
		violations = append(violations, apperror.FieldViolation{
			Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", MaxPageSize),
		})
	}
	if f.SortBy == "" {
		f.SortBy = "createdAt"
	} else if _, ok := store.SortColumns[f.SortBy]; !ok {
		violations = append(violations, apperror.FieldViolation{Field: "sortBy", Message: "is not a sortable field"})
	}
	switch f.SortOrder {
	case "":
		f.SortOrder = "desc"
	case "asc", "desc":
	default:
		violations = append(violations, apperror.FieldViolation{Field: "sortOrder", Message: "must be asc or desc"})
	}
	for _, st := range f.Statuses {
		if !st.IsValid() {
			violations = append(violations, apperror.FieldViolation{Field: "status", Message: fmt.Sprintf("%q is not a known status", st)})
		}
	}
	if f.PaymentStatus != nil && !f.PaymentStatus.IsValid() {
		violations = append(violations, apperror.FieldViolation{Field: "paymentStatus", Message: "is not a known payment status"})
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		violations = append(violations, apperror.FieldViolation{Field: "dateFrom", Message: "must not be after dateTo"})
	}
	if f.MinAmount != nil && f.MaxAmount != nil && *f.MinAmount > *f.MaxAmount {
		violations = append(violations, apperror.FieldViolation{Field: "minAmount", Message: "must not exceed maxAmount"})
	}
	if len(violations) > 0 {
		return apperror.Validation("invalid filter", violations...)
	}
	return nil
}

func paginate(page, limit, total int) models.Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return models.Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: pages,
		HasNext:    page < pages,
		HasPrev:    page > 1,
	}
}

func sortFields() []string {
	return []string{"createdAt", "updatedAt", "total", "orderNumber", "status"}
}
