package api

import (
	"strconv"
	"strings"
	"time"

	"storefront-orders/internal/apperror"
	"storefront-orders/internal/models"

	"github.com/gin-gonic/gin"
)

// parseOrderFilter reads list-orders query parameters. Range and enum checks
// happen in the service; this only rejects values that do not parse.
func parseOrderFilter(c *gin.Context) (models.OrderFilter, error) {
	var (
		f          models.OrderFilter
		violations []apperror.FieldViolation
	)
	reject := func(field, message string) {
		violations = append(violations, apperror.FieldViolation{Field: field, Message: message})
	}

	for _, raw := range c.QueryArray("status") {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, models.OrderStatus(s))
			}
		}
	}

	if raw := strings.TrimSpace(c.Query("paymentStatus")); raw != "" {
		ps := models.PaymentStatus(raw)
		f.PaymentStatus = &ps
	}

	if raw := c.Query("dateFrom"); raw != "" {
		t, err := parseDate(raw, false)
		if err != nil {
			reject("dateFrom", "must be an ISO-8601 date or timestamp")
		} else {
			f.From = &t
		}
	}
	if raw := c.Query("dateTo"); raw != "" {
		t, err := parseDate(raw, true)
		if err != nil {
			reject("dateTo", "must be an ISO-8601 date or timestamp")
		} else {
			f.To = &t
		}
	}

	if raw := c.Query("minAmount"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			reject("minAmount", "must be an integer amount in minor units")
		} else {
			f.MinAmount = &v
		}
	}
	if raw := c.Query("maxAmount"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			reject("maxAmount", "must be an integer amount in minor units")
		} else {
			f.MaxAmount = &v
		}
	}

	if raw := c.Query("page"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			reject("page", "must be an integer")
		} else {
			f.Page = v
		}
	}
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			reject("limit", "must be an integer")
		} else {
			f.Limit = v
		}
	}

	f.Search = strings.TrimSpace(c.Query("search"))
	f.SortBy = strings.TrimSpace(c.Query("sortBy"))
	f.SortOrder = strings.ToLower(strings.TrimSpace(c.Query("sortOrder")))

	if len(violations) > 0 {
		return models.OrderFilter{}, apperror.Validation("invalid query", violations...)
	}
	return f, nil
}

// parseDate accepts RFC 3339 timestamps or plain dates; a plain upper bound
// covers the whole day
func parseDate(raw string, upper bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
