package store

import (
	"testing"
	"time"

	"storefront-orders/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildWhereEmpty(t *testing.T) {
	where, args, err := buildWhere(models.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestBuildWhereAllFilters(t *testing.T) {
	customer := "cust-1"
	paid := models.PaymentStatusPaid
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	minAmount, maxAmount := int64(1000), int64(50000)

	where, args, err := buildWhere(models.OrderFilter{
		CustomerID:    &customer,
		Statuses:      []models.OrderStatus{models.OrderStatusPending, models.OrderStatusShipped},
		PaymentStatus: &paid,
		From:          &from,
		To:            &to,
		MinAmount:     &minAmount,
		MaxAmount:     &maxAmount,
		Search:        "50%_off",
	})
	require.NoError(t, err)

	assert.Equal(t, " WHERE customer_id = $1 AND status IN ($2, $3) AND payment_status = $4"+
		" AND created_at >= $5 AND created_at <= $6 AND total >= $7 AND total <= $8"+
		" AND (order_number ILIKE $9 OR customer_name ILIKE $10 OR email ILIKE $11)", where)
	require.Len(t, args, 11)
	assert.Equal(t, "pending", args[1])
	assert.Equal(t, `%50\%\_off%`, args[8])
}

func TestOrderByWhitelist(t *testing.T) {
	assert.Equal(t, " ORDER BY total ASC, id ASC", orderBy(models.OrderFilter{SortBy: "total", SortOrder: "asc"}))
	assert.Equal(t, " ORDER BY created_at DESC, id DESC", orderBy(models.OrderFilter{SortBy: "1; DROP TABLE orders"}))
}

func TestSummarize(t *testing.T) {
	stats := summarize([]statusAggregate{
		{Status: models.OrderStatusPending, Count: 2, Revenue: 3000},
		{Status: models.OrderStatusDelivered, Count: 1, Revenue: 6000},
		{Status: models.OrderStatusCancelled, Count: 3, Revenue: 90000},
	})

	assert.Equal(t, 6, stats.TotalOrders)
	assert.Equal(t, 3, stats.CountByStatus[models.OrderStatusCancelled])
	assert.Equal(t, int64(9000), stats.TotalRevenue)
	assert.Equal(t, int64(3000), stats.AverageOrderValue)

	empty := summarize(nil)
	assert.Zero(t, empty.TotalOrders)
	assert.Zero(t, empty.AverageOrderValue)
	assert.NotNil(t, empty.CountByStatus)
}
