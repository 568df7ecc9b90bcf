package store

import (
	"context"
	"fmt"
	"strings"

	"storefront-orders/internal/models"

	"github.com/jmoiron/sqlx"
)

// SortColumns maps the accepted sort keys to columns
var SortColumns = map[string]string{
	"createdAt":   "created_at",
	"updatedAt":   "updated_at",
	"total":       "total",
	"orderNumber": "order_number",
	"status":      "status",
}

// revenueExcluded statuses do not count towards revenue
var revenueExcluded = map[models.OrderStatus]bool{
	models.OrderStatusCancelled: true,
	models.OrderStatusFailed:    true,
	models.OrderStatusRefunded:  true,
}

// buildWhere renders the filter as a WHERE clause with postgres placeholders
func buildWhere(f models.OrderFilter) (string, []interface{}, error) {
	var conds []string
	var args []interface{}

	add := func(cond string, a ...interface{}) {
		conds = append(conds, cond)
		args = append(args, a...)
	}

	if f.CustomerID != nil {
		add("customer_id = ?", *f.CustomerID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		cond, inArgs, err := sqlx.In("status IN (?)", statuses)
		if err != nil {
			return "", nil, err
		}
		add(cond, inArgs...)
	}
	if f.PaymentStatus != nil {
		add("payment_status = ?", string(*f.PaymentStatus))
	}
	if f.From != nil {
		add("created_at >= ?", *f.From)
	}
	if f.To != nil {
		add("created_at <= ?", *f.To)
	}
	if f.MinAmount != nil {
		add("total >= ?", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		add("total <= ?", *f.MaxAmount)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		add("(order_number ILIKE ? OR customer_name ILIKE ? OR email ILIKE ?)", pattern, pattern, pattern)
	}

	if len(conds) == 0 {
		return "", args, nil
	}
	where := " WHERE " + strings.Join(conds, " AND ")
	return sqlx.Rebind(sqlx.DOLLAR, where), args, nil
}

// orderBy renders a whitelisted sort with a stable tiebreak
func orderBy(f models.OrderFilter) string {
	column, ok := SortColumns[f.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if strings.EqualFold(f.SortOrder, "asc") {
		direction = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", column, direction, direction)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ListOrders returns one page of orders matching f and the size of the whole set
func (s *Store) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, int, error) {
	where, args, err := buildWhere(f)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM orders"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	n := len(args)
	query := "SELECT " + orderColumns + " FROM orders" + where + orderBy(f) +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", n+1, n+2)
	pageArgs := append(append([]interface{}{}, args...), f.Limit, f.Offset())

	orders := []models.Order{}
	if err := s.db.SelectContext(ctx, &orders, query, pageArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}

	if err := s.attachItems(ctx, orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (s *Store) attachItems(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	query, args, err := sqlx.In("SELECT "+itemColumns+" FROM order_items WHERE order_id IN (?) ORDER BY product_id, id", ids)
	if err != nil {
		return err
	}

	var items []models.OrderItem
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to list order items: %w", err)
	}
	for _, item := range items {
		i := index[item.OrderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	return nil
}

type statusAggregate struct {
	Status  models.OrderStatus `db:"status"`
	Count   int                `db:"count"`
	Revenue int64              `db:"revenue"`
}

// OrderStatistics aggregates the whole filtered set, independent of pagination
func (s *Store) OrderStatistics(ctx context.Context, f models.OrderFilter) (*models.OrderStatistics, error) {
	where, args, err := buildWhere(f)
	if err != nil {
		return nil, err
	}

	var rows []statusAggregate
	err = s.db.SelectContext(ctx, &rows,
		"SELECT status, COUNT(*) AS count, COALESCE(SUM(total), 0) AS revenue FROM orders"+where+" GROUP BY status",
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate orders: %w", err)
	}
	return summarize(rows), nil
}

func summarize(rows []statusAggregate) *models.OrderStatistics {
	stats := &models.OrderStatistics{CountByStatus: make(map[models.OrderStatus]int)}
	revenueOrders := 0
	for _, row := range rows {
		stats.TotalOrders += row.Count
		stats.CountByStatus[row.Status] = row.Count
		if revenueExcluded[row.Status] {
			continue
		}
		stats.TotalRevenue += row.Revenue
		revenueOrders += row.Count
	}
	if revenueOrders > 0 {
		stats.AverageOrderValue = stats.TotalRevenue / int64(revenueOrders)
	}
	return stats
}
