package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/storefront/internal/model"
)

// OrderRepo persists orders.  The PENDING order of a user doubles as the
// cart; a unique generated column keeps it single per user.
type OrderRepo struct{ DB *sql.DB }

func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{DB: db} }

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const orderColumns = `id, user_id, status, subtotal_cents, tax_cents, shipping_cost_cents,
	shipping_tax_cents, total_cents, COALESCE(shipping_option, ''), COALESCE(address_id, ''),
	created_at, updated_at`

func scanOrder(row rowScanner) (model.Order, error) {
	var o model.Order
	err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.SubtotalCents, &o.TaxCents, &o.ShippingCostCents,
		&o.ShippingTaxCents, &o.TotalCents, &o.ShippingOption, &o.AddressID, &o.CreatedAt, &o.UpdatedAt)
	return o, notFound(err)
}

// FindPending returns the user's PENDING order with its items.
func (r *OrderRepo) FindPending(ctx context.Context, userID string) (model.Order, error) {
	o, err := scanOrder(r.DB.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id=? AND status=? LIMIT 1",
		userID, model.OrderPending))
	if err != nil {
		return model.Order{}, err
	}
	o.Items, err = loadItems(ctx, r.DB, o.ID)
	return o, err
}

// CreatePending inserts an empty PENDING order for the user.
func (r *OrderRepo) CreatePending(ctx context.Context, userID string) (model.Order, error) {
	now := time.Now().UTC().Truncate(time.Second)
	o := model.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    model.OrderPending,
		Items:     []model.OrderItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO orders (id, user_id, status, created_at, updated_at) VALUES (?,?,?,?,?)",
		o.ID, o.UserID, o.Status, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if isDuplicate(err) {
			return model.Order{}, ErrConflict
		}
		return model.Order{}, err
	}
	return o, nil
}

// FindOrCreatePending returns the user's cart, creating it on first use.
// A concurrent request that created it first wins; its order is returned.
func (r *OrderRepo) FindOrCreatePending(ctx context.Context, userID string) (model.Order, error) {
	o, err := r.FindPending(ctx, userID)
	if err != ErrNotFound {
		return o, err
	}
	o, err = r.CreatePending(ctx, userID)
	if err == ErrConflict {
		return r.FindPending(ctx, userID)
	}
	return o, err
}

// SaveCart replaces the items and totals of a PENDING order owned by the
// order's user.  Items are rewritten wholesale inside one transaction.
func (r *OrderRepo) SaveCart(ctx context.Context, o *model.Order) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM orders WHERE id=? AND user_id=? FOR UPDATE", o.ID, o.UserID).Scan(&status)
	if err != nil {
		return notFound(err)
	}
	if status != model.OrderPending {
		return ErrConflict
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE c FROM order_item_customs c JOIN order_items i ON i.id = c.order_item_id
		 WHERE i.order_id=?`, o.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM order_items WHERE order_id=?", o.ID); err != nil {
		return err
	}
	for i := range o.Items {
		it := &o.Items[i]
		it.ID = uuid.NewString()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (id, order_id, product_id, product_name, quantity, unit_price_cents, position)
			 VALUES (?,?,?,?,?,?,?)`,
			it.ID, o.ID, it.ProductID, it.ProductName, it.Quantity, it.UnitPriceCents, i); err != nil {
			return err
		}
		for j := range it.Custom {
			c := &it.Custom[j]
			c.ID = uuid.NewString()
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO order_item_customs (id, order_item_id, image, user_message) VALUES (?,?,?,?)",
				c.ID, it.ID, c.Image, c.UserMessage); err != nil {
				return err
			}
		}
	}
	if err := updateTotalsTx(ctx, tx, o); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateShipping stores the shipping choice and the recomputed totals.
func (r *OrderRepo) UpdateShipping(ctx context.Context, o *model.Order) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := updateTotalsTx(ctx, tx, o); err != nil {
		return err
	}
	return tx.Commit()
}

func updateTotalsTx(ctx context.Context, tx *sql.Tx, o *model.Order) error {
	o.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	var option, address sql.NullString
	if o.ShippingOption != "" {
		option = sql.NullString{String: o.ShippingOption, Valid: true}
	}
	if o.AddressID != "" {
		address = sql.NullString{String: o.AddressID, Valid: true}
	}
	return checkAffected(tx.ExecContext(ctx,
		`UPDATE orders SET subtotal_cents=?, tax_cents=?, shipping_cost_cents=?, shipping_tax_cents=?,
		 total_cents=?, shipping_option=?, address_id=?, updated_at=?
		 WHERE id=? AND user_id=? AND status=?`,
		o.SubtotalCents, o.TaxCents, o.ShippingCostCents, o.ShippingTaxCents, o.TotalCents,
		option, address, o.UpdatedAt, o.ID, o.UserID, model.OrderPending))
}

func loadItems(ctx context.Context, q queryer, orderID string) ([]model.OrderItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT i.id, i.product_id, i.product_name, i.quantity, i.unit_price_cents,
		        COALESCE(c.id, ''), COALESCE(c.image, ''), COALESCE(c.user_message, '')
		 FROM order_items i LEFT JOIN order_item_customs c ON c.order_item_id = i.id
		 WHERE i.order_id=? ORDER BY i.position, c.id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []model.OrderItem{}
	index := map[string]int{}
	for rows.Next() {
		var (
			it   model.OrderItem
			cust model.OrderItemCustom
		)
		if err := rows.Scan(&it.ID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPriceCents,
			&cust.ID, &cust.Image, &cust.UserMessage); err != nil {
			return nil, err
		}
		pos, ok := index[it.ID]
		if !ok {
			pos = len(items)
			index[it.ID] = pos
			items = append(items, it)
		}
		if cust.ID != "" {
			items[pos].Custom = append(items[pos].Custom, cust)
		}
	}
	return items, rows.Err()
}
