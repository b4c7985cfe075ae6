package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// Store is the Postgres orders.Store. Row locks are SELECT ... FOR UPDATE
// held until the transaction started by InTx ends.
type Store struct{ DB *pgxpool.Pool }

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const productCols = `id, name, sku, variant, price, available_stock, reserved_stock,
	low_stock_threshold, is_active, created_at, updated_at`

const orderCols = `id, external_id, status, items, reservations, total, shipping, customer,
	payment_method, txn_id, receipt_ref, paid_at, reject_reason, cancelled_at, created_at, updated_at`

func (s *Store) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", mapErr(err))
	}
	return nil
}

// UpsertProduct writes a catalog row as is, counters included.
func (s *Store) UpsertProduct(ctx context.Context, p inventory.Product) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO products(`+productCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, sku = EXCLUDED.sku, variant = EXCLUDED.variant,
			price = EXCLUDED.price, available_stock = EXCLUDED.available_stock,
			reserved_stock = EXCLUDED.reserved_stock, low_stock_threshold = EXCLUDED.low_stock_threshold,
			is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, p.SKU, p.Variant, p.Price, p.Available, p.Reserved,
		p.LowStockThreshold, p.Active, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	return nil
}

// SeedProducts inserts catalog rows that are not there yet, matched by id or
// by sku+variant. Existing rows and their counters are left alone.
func (s *Store) SeedProducts(ctx context.Context, ps []inventory.Product) (int, error) {
	b := &pgx.Batch{}
	for _, p := range ps {
		b.Queue(`
			INSERT INTO products(`+productCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT DO NOTHING`,
			p.ID, p.Name, p.SKU, p.Variant, p.Price, p.Available, p.Reserved,
			p.LowStockThreshold, p.Active, p.CreatedAt, p.UpdatedAt)
	}
	br := s.DB.SendBatch(ctx, b)
	defer br.Close()

	inserted := 0
	for _, p := range ps {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("seed product %s: %w", p.SKU, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (s *Store) Order(ctx context.Context, id string) (orders.Order, error) {
	if !isUUID(id) {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
}

var orderSort = map[string]string{
	"created_at": "created_at",
	"total":      "total",
	"status":     "status",
}

func (s *Store) ListOrders(ctx context.Context, f orders.OrderFilter) ([]orders.Order, int, error) {
	var w where
	if len(f.Statuses) > 0 {
		st := make([]string, len(f.Statuses))
		for i, v := range f.Statuses {
			st[i] = string(v)
		}
		w.add("status = ANY(%s)", st)
	}
	if len(f.Methods) > 0 {
		w.add("payment_method = ANY(%s)", f.Methods)
	}
	if !f.From.IsZero() {
		w.add("created_at >= %s", f.From)
	}
	if !f.To.IsZero() {
		w.add("created_at <= %s", f.To)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		w.add(`(id::text ILIKE %[1]s OR shipping->>'name' ILIKE %[1]s OR shipping->>'phone' ILIKE %[1]s
			OR customer->>'name' ILIKE %[1]s OR customer->>'phone' ILIKE %[1]s OR txn_id ILIKE %[1]s)`, like(q))
	}

	var total int
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM orders`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	sql := `SELECT ` + orderCols + ` FROM orders` + w.sql() +
		` ORDER BY ` + orderBy(orderSort, f.SortBy, f.Asc) +
		fmt.Sprintf(` LIMIT %d OFFSET %d`, f.Limit, f.Offset())
	rows, err := s.DB.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

func (s *Store) DueForExpiry(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id FROM orders
		WHERE status IN ('pending_payment', 'awaiting_verification') AND reserved_until <= $1
		ORDER BY reserved_until
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due orders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Product(ctx context.Context, id string) (inventory.Product, error) {
	if !isUUID(id) {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return scanProduct(s.DB.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id))
}

var productSort = map[string]string{
	"created_at":      "created_at",
	"price":           "price",
	"name":            "name",
	"available_stock": "available_stock",
}

func (s *Store) ListProducts(ctx context.Context, f orders.ProductFilter) ([]inventory.Product, int, error) {
	var w where
	if f.Active != nil {
		w.add("is_active = %s", *f.Active)
	}
	if f.InStock {
		w.add("available_stock > %s", 0)
	}
	if f.SKU != "" {
		w.add("sku = %s", f.SKU)
	}
	if f.Variant != "" {
		w.add("variant = %s", f.Variant)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		w.add("(name ILIKE %[1]s OR sku ILIKE %[1]s)", like(q))
	}

	var total int
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM products`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}
	sql := `SELECT ` + productCols + ` FROM products` + w.sql() +
		` ORDER BY ` + orderBy(productSort, f.SortBy, f.Asc) +
		fmt.Sprintf(` LIMIT %d OFFSET %d`, f.Limit, f.Offset())
	rows, err := s.DB.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []inventory.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (s *Store) Movements(ctx context.Context, productID string, limit int) ([]inventory.Movement, error) {
	if !isUUID(productID) {
		return nil, nil
	}
	rows, err := s.DB.Query(ctx, `
		SELECT id, product_id, type, qty, notes, created_at
		FROM stock_movements WHERE product_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	defer rows.Close()

	var out []inventory.Movement
	for rows.Next() {
		var m inventory.Movement
		var kind string
		if err := rows.Scan(&m.ID, &m.ProductID, &kind, &m.Qty, &m.Note, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Kind = inventory.MovementKind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

type pgTx struct{ q querier }

func (t *pgTx) ProductForUpdate(ctx context.Context, id string) (inventory.Product, error) {
	if !isUUID(id) {
		return inventory.Product{}, fmt.Errorf("product %s: %w", id, inventory.ErrProductNotFound)
	}
	p, err := scanProduct(t.q.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return inventory.Product{}, fmt.Errorf("lock product %s: %w", id, err)
	}
	return p, nil
}

func (t *pgTx) SaveStock(ctx context.Context, p inventory.Product) error {
	ct, err := t.q.Exec(ctx, `
		UPDATE products SET available_stock=$2, reserved_stock=$3, updated_at=$4
		WHERE id=$1`, p.ID, p.Available, p.Reserved, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save stock %s: %w", p.ID, err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("save stock %s: %w", p.ID, inventory.ErrProductNotFound)
	}
	return nil
}

func (t *pgTx) InsertMovement(ctx context.Context, m inventory.Movement) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO stock_movements(id, product_id, type, qty, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.ProductID, string(m.Kind), m.Qty, m.Note, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

func (t *pgTx) ProductByID(ctx context.Context, id string) (inventory.Product, error) {
	if !isUUID(id) {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return scanProduct(t.q.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id))
}

func (t *pgTx) ProductBySKU(ctx context.Context, sku, variant string) (inventory.Product, error) {
	return scanProduct(t.q.QueryRow(ctx, `
		SELECT `+productCols+` FROM products
		WHERE sku=$1 AND ($2 = '' OR variant=$2)
		ORDER BY (variant <> ''), created_at, id
		LIMIT 1`, sku, variant))
}

func (t *pgTx) ProductByName(ctx context.Context, name string) (inventory.Product, error) {
	return scanProduct(t.q.QueryRow(ctx, `
		SELECT `+productCols+` FROM products
		WHERE lower(btrim(name)) = lower($1)
		ORDER BY created_at, id
		LIMIT 1`, strings.TrimSpace(name)))
}

func (t *pgTx) OrderForUpdate(ctx context.Context, id string) (orders.Order, error) {
	if !isUUID(id) {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return scanOrder(t.q.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) OrderByExternalID(ctx context.Context, externalID string) (orders.Order, error) {
	return scanOrder(t.q.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE external_id=$1`, externalID))
}

func (t *pgTx) InsertOrder(ctx context.Context, o orders.Order) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO orders(`+orderCols+`, reserved_until)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		orderArgs(o)...)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, mapErr(err))
	}
	return nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, o orders.Order) error {
	a := orderArgs(o)
	// external_id and created_at never change
	args := append([]any{a[0]}, a[2:14]...)
	args = append(args, a[15], a[16])
	ct, err := t.q.Exec(ctx, `
		UPDATE orders SET
			status=$2, items=$3, reservations=$4, total=$5, shipping=$6, customer=$7,
			payment_method=$8, txn_id=$9, receipt_ref=$10, paid_at=$11, reject_reason=$12,
			cancelled_at=$13, updated_at=$14, reserved_until=$15
		WHERE id=$1`, args...)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("update order %s: %w", o.ID, orders.ErrOrderNotFound)
	}
	return nil
}

// orderArgs follows orderCols, then reserved_until.
func orderArgs(o orders.Order) []any {
	items := o.Items
	if items == nil {
		items = []orders.Item{}
	}
	res := o.Reservations
	if res == nil {
		res = []orders.Reservation{}
	}
	var reservedUntil *time.Time
	if until := o.ReservedUntil(); !until.IsZero() {
		reservedUntil = &until
	}
	var externalID *string
	if o.ExternalID != "" {
		externalID = &o.ExternalID
	}
	return []any{
		o.ID, externalID, string(o.Status), items, res, o.Total, o.Shipping, o.Customer,
		o.Payment.Method, o.Payment.TxnID, o.Payment.ReceiptRef, o.Payment.PaidAt,
		o.Payment.RejectReason, o.CancelledAt, o.CreatedAt, o.UpdatedAt, reservedUntil,
	}
}

func scanProduct(row pgx.Row) (inventory.Product, error) {
	var p inventory.Product
	err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.Variant, &p.Price, &p.Available, &p.Reserved,
		&p.LowStockThreshold, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	if err != nil {
		return inventory.Product{}, fmt.Errorf("scan product: %w", err)
	}
	return p, nil
}

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o          orders.Order
		externalID *string
		status     string
	)
	err := row.Scan(&o.ID, &externalID, &status, &o.Items, &o.Reservations, &o.Total,
		&o.Shipping, &o.Customer, &o.Payment.Method, &o.Payment.TxnID, &o.Payment.ReceiptRef,
		&o.Payment.PaidAt, &o.Payment.RejectReason, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	if err != nil {
		return orders.Order{}, fmt.Errorf("scan order: %w", err)
	}
	if externalID != nil {
		o.ExternalID = *externalID
	}
	o.Status = orders.Status(status)
	if len(o.Reservations) == 0 {
		o.Reservations = nil
	}
	return o, nil
}

func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "orders_external_id_key" {
		return orders.ErrDuplicateExternalID
	}
	return err
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// where accumulates AND-ed conditions with positional args. Each format
// verb in a condition is replaced by the placeholder of its single arg.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func like(q string) string { return "%" + likeEscaper.Replace(q) + "%" }

func orderBy(cols map[string]string, key string, asc bool) string {
	col, ok := cols[key]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if asc {
		dir = "ASC"
	}
	return col + " " + dir + ", id " + dir
}
