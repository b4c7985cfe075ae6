package httpx

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// list reads a parameter given either repeated or comma separated.
func list(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func intParam(q url.Values, key string) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// timeParam accepts RFC 3339 or a bare date. A bare "to" date covers the whole day.
func timeParam(q url.Values, key string, endOfDay bool) (time.Time, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC 3339 or YYYY-MM-DD", key)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func paging(q url.Values) (page, limit int, err error) {
	if page, err = intParam(q, "page"); err != nil {
		return 0, 0, err
	}
	if limit, err = intParam(q, "limit"); err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

func ascending(q url.Values) bool {
	return strings.EqualFold(q.Get("order"), "asc")
}

func orderFilter(r *http.Request) (orders.OrderFilter, error) {
	q := r.URL.Query()
	f := orders.OrderFilter{
		Methods: list(q, "method"),
		Query:   strings.TrimSpace(q.Get("q")),
		SortBy:  q.Get("sort"),
		Asc:     ascending(q),
	}
	for _, s := range list(q, "status") {
		f.Statuses = append(f.Statuses, orders.Status(strings.ToLower(s)))
	}
	var err error
	if f.From, err = timeParam(q, "from", false); err != nil {
		return f, err
	}
	if f.To, err = timeParam(q, "to", true); err != nil {
		return f, err
	}
	f.Page, f.Limit, err = paging(q)
	return f, err
}

func productFilter(r *http.Request) (orders.ProductFilter, error) {
	q := r.URL.Query()
	f := orders.ProductFilter{
		Query:   strings.TrimSpace(q.Get("q")),
		SKU:     strings.TrimSpace(q.Get("sku")),
		Variant: strings.TrimSpace(q.Get("variant")),
		SortBy:  q.Get("sort"),
		Asc:     ascending(q),
	}
	if v := q.Get("in_stock"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("in_stock must be a boolean")
		}
		f.InStock = b
	}
	if v := q.Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("active must be a boolean")
		}
		f.Active = &b
	}
	var err error
	f.Page, f.Limit, err = paging(q)
	return f, err
}
