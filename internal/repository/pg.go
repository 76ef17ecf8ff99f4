package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verdandi/shop/internal/domain"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so every query
// method works inside and outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements Querier against PostgreSQL.
type Store struct {
	db   DBTX
	pool *pgxpool.Pool
}

// Compile-time check that Store implements Querier.
var _ Querier = (*Store)(nil)

// New creates a Store backed by a connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, pool: pool}
}

// WithTx runs fn with a Querier bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(q Querier) error) error {
	if s.pool == nil {
		// Already inside a transaction; reuse it.
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Store{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Nullable column helpers. Zero values map to SQL NULL and back.

func toPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: id != uuid.Nil}
}

func fromPgUUID(u pgtype.UUID) uuid.UUID {
	if !u.Valid {
		return uuid.Nil
	}
	return uuid.UUID(u.Bytes)
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

func fromPgTime(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}

// ----------------------------------------------------------------------------
// Products
// ----------------------------------------------------------------------------

func (s *Store) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	const q = `
		SELECT id, name, sku, price_cents, currency, stock_quantity,
		       weight_grams, tax_category, active, created_at, updated_at
		FROM products WHERE id = $1`

	var p Product
	err := s.db.QueryRow(ctx, q, id).Scan(
		&p.ID, &p.Name, &p.SKU, &p.PriceCents, &p.Currency, &p.StockQuantity,
		&p.WeightGrams, &p.TaxCategory, &p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("product.get", "product", id.String())
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

func (s *Store) GetProductStock(ctx context.Context, id uuid.UUID) (int32, error) {
	var stock int32
	err := s.db.QueryRow(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, id).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.NotFound("product.stock", "product", id.String())
		}
		return 0, fmt.Errorf("get product stock: %w", err)
	}
	return stock, nil
}

// AdjustProductStock applies a signed delta. A decrement that would
// take stock negative affects zero rows and returns ECONFLICT.
func (s *Store) AdjustProductStock(ctx context.Context, params AdjustStockParams) error {
	const q = `
		UPDATE products
		SET stock_quantity = stock_quantity + $2, updated_at = now()
		WHERE id = $1 AND stock_quantity + $2 >= 0`

	tag, err := s.db.Exec(ctx, q, params.ProductID, params.Delta)
	if err != nil {
		return fmt.Errorf("adjust stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Conflict("product.adjust_stock",
			fmt.Sprintf("stock adjustment of %d rejected for product %s", params.Delta, params.ProductID))
	}
	return nil
}

// ----------------------------------------------------------------------------
// Carts
// ----------------------------------------------------------------------------

func (s *Store) CreateCart(ctx context.Context, customerID uuid.UUID) (*domain.Cart, error) {
	const q = `
		INSERT INTO carts (id, customer_id, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		RETURNING id, customer_id, coalesce(coupon_code, ''), created_at, updated_at`

	var c domain.Cart
	err := s.db.QueryRow(ctx, q, uuid.New(), customerID).Scan(
		&c.ID, &c.CustomerID, &c.CouponCode, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	return &c, nil
}

func (s *Store) GetCart(ctx context.Context, id uuid.UUID) (*domain.Cart, error) {
	const q = `
		SELECT id, customer_id, coalesce(coupon_code, ''), created_at, updated_at
		FROM carts WHERE id = $1`

	var c domain.Cart
	err := s.db.QueryRow(ctx, q, id).Scan(
		&c.ID, &c.CustomerID, &c.CouponCode, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCartNotFound
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return &c, nil
}

func (s *Store) ListCartLines(ctx context.Context, cartID uuid.UUID) ([]domain.CartLine, error) {
	const q = `
		SELECT cl.id, cl.cart_id, cl.product_id, p.name, p.sku,
		       cl.quantity, cl.unit_price_cents, cl.gift_wrap,
		       coalesce(cl.customization, ''), cl.added_at
		FROM cart_lines cl
		JOIN products p ON p.id = cl.product_id
		WHERE cl.cart_id = $1
		ORDER BY cl.added_at`

	rows, err := s.db.Query(ctx, q, cartID)
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(
			&l.ID, &l.CartID, &l.ProductID, &l.ProductName, &l.SKU,
			&l.Quantity, &l.UnitPriceCents, &l.GiftWrap, &l.Customization, &l.AddedAt,
		); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *Store) UpsertCartLine(ctx context.Context, params UpsertCartLineParams) (*domain.CartLine, error) {
	const q = `
		INSERT INTO cart_lines
			(id, cart_id, product_id, quantity, unit_price_cents, gift_wrap, customization, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (cart_id, product_id) DO UPDATE
			SET quantity = cart_lines.quantity + EXCLUDED.quantity,
			    gift_wrap = EXCLUDED.gift_wrap,
			    customization = EXCLUDED.customization
		RETURNING id, cart_id, product_id, quantity, unit_price_cents,
		          gift_wrap, coalesce(customization, ''), added_at`

	var l domain.CartLine
	err := s.db.QueryRow(ctx, q,
		uuid.New(), params.CartID, params.ProductID, params.Quantity,
		params.UnitPriceCents, params.GiftWrap, params.Customization,
	).Scan(
		&l.ID, &l.CartID, &l.ProductID, &l.Quantity, &l.UnitPriceCents,
		&l.GiftWrap, &l.Customization, &l.AddedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert cart line: %w", err)
	}

	_, err = s.db.Exec(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, params.CartID)
	if err != nil {
		return nil, fmt.Errorf("touch cart: %w", err)
	}
	return &l, nil
}

func (s *Store) UpdateCartLineQuantity(ctx context.Context, lineID uuid.UUID, quantity int32) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE cart_lines SET quantity = $2 WHERE id = $1`, lineID, quantity)
	if err != nil {
		return fmt.Errorf("update cart line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCartItemNotFound
	}
	return nil
}

func (s *Store) DeleteCartLine(ctx context.Context, lineID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM cart_lines WHERE id = $1`, lineID)
	if err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCartItemNotFound
	}
	return nil
}

func (s *Store) ClearCart(ctx context.Context, cartID uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	_, err := s.db.Exec(ctx,
		`UPDATE carts SET coupon_code = NULL, updated_at = now() WHERE id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("clear cart coupon: %w", err)
	}
	return nil
}

func (s *Store) SetCartCoupon(ctx context.Context, cartID uuid.UUID, code string) error {
	var couponCode any
	if code != "" {
		couponCode = code
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE carts SET coupon_code = $2, updated_at = now() WHERE id = $1`, cartID, couponCode)
	if err != nil {
		return fmt.Errorf("set cart coupon: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCartNotFound
	}
	return nil
}

// ----------------------------------------------------------------------------
// Coupons
// ----------------------------------------------------------------------------

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	const q = `
		SELECT code, type, percent_off, amount_off_cents, min_subtotal_cents,
		       expires_at, active
		FROM coupons WHERE code = $1`

	var (
		c         domain.Coupon
		couponTyp string
		expiresAt pgtype.Timestamptz
	)
	err := s.db.QueryRow(ctx, q, code).Scan(
		&c.Code, &couponTyp, &c.PercentOff, &c.AmountOffCents,
		&c.MinSubtotalCents, &expiresAt, &c.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("coupon.get", "coupon", code)
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	c.Type = domain.CouponType(couponTyp)
	c.ExpiresAt = fromPgTime(expiresAt)
	return &c, nil
}

// ----------------------------------------------------------------------------
// Reservations
// ----------------------------------------------------------------------------

func (s *Store) CreateReservation(ctx context.Context, r *domain.Reservation) error {
	const q = `
		INSERT INTO reservations
			(token, cart_id, customer_id, status, quote_total_cents, currency, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.Exec(ctx, q,
		r.Token, r.CartID, r.CustomerID, string(r.Status),
		r.QuoteTotalCents, r.Currency, r.CreatedAt, r.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("create reservation: %w", err)
	}

	for _, line := range r.Lines {
		_, err := s.db.Exec(ctx,
			`INSERT INTO reservation_lines (reservation_token, product_id, quantity)
			 VALUES ($1, $2, $3)`,
			r.Token, line.ProductID, line.Quantity)
		if err != nil {
			return fmt.Errorf("create reservation line: %w", err)
		}
	}
	return nil
}

func (s *Store) GetReservationByToken(ctx context.Context, token string) (*domain.Reservation, error) {
	const q = `
		SELECT token, cart_id, customer_id, status, quote_total_cents,
		       currency, created_at, expires_at
		FROM reservations WHERE token = $1`

	var (
		r      domain.Reservation
		status string
	)
	err := s.db.QueryRow(ctx, q, token).Scan(
		&r.Token, &r.CartID, &r.CustomerID, &status,
		&r.QuoteTotalCents, &r.Currency, &r.CreatedAt, &r.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("reservation.get", "reservation", token)
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	r.Status = domain.ReservationStatus(status)

	lines, err := s.listReservationLines(ctx, token)
	if err != nil {
		return nil, err
	}
	r.Lines = lines
	return &r, nil
}

func (s *Store) listReservationLines(ctx context.Context, token string) ([]domain.ReservationLine, error) {
	rows, err := s.db.Query(ctx,
		`SELECT product_id, quantity FROM reservation_lines WHERE reservation_token = $1`,
		token)
	if err != nil {
		return nil, fmt.Errorf("list reservation lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.ReservationLine
	for rows.Next() {
		var l domain.ReservationLine
		if err := rows.Scan(&l.ProductID, &l.Quantity); err != nil {
			return nil, fmt.Errorf("scan reservation line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *Store) ListReservationsByStatus(ctx context.Context, status domain.ReservationStatus) ([]domain.Reservation, error) {
	return s.listReservations(ctx,
		`SELECT token, cart_id, customer_id, status, quote_total_cents,
		        currency, created_at, expires_at
		 FROM reservations WHERE status = $1 ORDER BY created_at`,
		string(status))
}

func (s *Store) ListExpiredHeldReservations(ctx context.Context, cutoff time.Time) ([]domain.Reservation, error) {
	return s.listReservations(ctx,
		`SELECT token, cart_id, customer_id, status, quote_total_cents,
		        currency, created_at, expires_at
		 FROM reservations WHERE status = 'HELD' AND expires_at <= $1
		 ORDER BY expires_at`,
		cutoff)
}

func (s *Store) listReservations(ctx context.Context, q string, arg any) ([]domain.Reservation, error) {
	rows, err := s.db.Query(ctx, q, arg)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	var result []domain.Reservation
	for rows.Next() {
		var (
			r      domain.Reservation
			status string
		)
		if err := rows.Scan(
			&r.Token, &r.CartID, &r.CustomerID, &status,
			&r.QuoteTotalCents, &r.Currency, &r.CreatedAt, &r.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		r.Status = domain.ReservationStatus(status)
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		lines, err := s.listReservationLines(ctx, result[i].Token)
		if err != nil {
			return nil, err
		}
		result[i].Lines = lines
	}
	return result, nil
}

func (s *Store) UpdateReservationStatus(ctx context.Context, token string, from, to domain.ReservationStatus) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE reservations SET status = $3 WHERE token = $1 AND status = $2`,
		token, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("update reservation status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ----------------------------------------------------------------------------
// Checkout sessions
// ----------------------------------------------------------------------------

func (s *Store) CreateCheckoutSession(ctx context.Context, sess *domain.CheckoutSession) error {
	const q = `
		INSERT INTO checkout_sessions
			(id, cart_id, customer_id, state, reservation_token, payment_id,
			 order_id, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.Exec(ctx, q,
		sess.ID, sess.CartID, sess.CustomerID, string(sess.State),
		sess.ReservationToken, toPgUUID(sess.PaymentID), toPgUUID(sess.OrderID),
		sess.FailureReason, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create checkout session: %w", err)
	}
	return nil
}

func (s *Store) GetCheckoutSession(ctx context.Context, id uuid.UUID) (*domain.CheckoutSession, error) {
	const q = `
		SELECT id, cart_id, customer_id, state, coalesce(reservation_token, ''),
		       payment_id, order_id, coalesce(failure_reason, ''), created_at, updated_at
		FROM checkout_sessions WHERE id = $1`

	var (
		sess      domain.CheckoutSession
		state     string
		paymentID pgtype.UUID
		orderID   pgtype.UUID
	)
	err := s.db.QueryRow(ctx, q, id).Scan(
		&sess.ID, &sess.CartID, &sess.CustomerID, &state, &sess.ReservationToken,
		&paymentID, &orderID, &sess.FailureReason, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("checkout.get", "checkout session", id.String())
		}
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	sess.State = domain.CheckoutState(state)
	sess.PaymentID = fromPgUUID(paymentID)
	sess.OrderID = fromPgUUID(orderID)
	return &sess, nil
}

func (s *Store) UpdateCheckoutSession(ctx context.Context, sess *domain.CheckoutSession) error {
	const q = `
		UPDATE checkout_sessions
		SET state = $2, reservation_token = $3, payment_id = $4, order_id = $5,
		    failure_reason = $6, updated_at = now()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, q,
		sess.ID, string(sess.State), sess.ReservationToken,
		toPgUUID(sess.PaymentID), toPgUUID(sess.OrderID), sess.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("update checkout session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("checkout.update", "checkout session", sess.ID.String())
	}
	return nil
}

// ----------------------------------------------------------------------------
// Orders
// ----------------------------------------------------------------------------

func (s *Store) CreateOrder(ctx context.Context, o *domain.Order, lines []domain.OrderLine) error {
	const q = `
		INSERT INTO orders
			(id, order_number, customer_id, subtotal_cents, tax_cents,
			 shipping_cents, discount_cents, total_cents, currency, status,
			 payment_id, shipment_id, shipping_address_id, billing_address_id,
			 cancellation_reason, return_reason, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := s.db.Exec(ctx, q,
		o.ID, o.OrderNumber, o.CustomerID, o.SubtotalCents, o.TaxCents,
		o.ShippingCents, o.DiscountCents, o.TotalCents, o.Currency, string(o.Status),
		toPgUUID(o.PaymentID), toPgUUID(o.ShipmentID),
		toPgUUID(o.ShippingAddressID), toPgUUID(o.BillingAddressID),
		o.CancellationReason, o.ReturnReason, o.Version, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	for i := range lines {
		line := &lines[i]
		if line.ID == uuid.Nil {
			line.ID = uuid.New()
		}
		line.OrderID = o.ID
		_, err := s.db.Exec(ctx,
			`INSERT INTO order_lines
				(id, order_id, product_id, product_name, sku, quantity,
				 unit_price_cents, total_price_cents, tax_category, weight_grams_each)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			line.ID, line.OrderID, line.ProductID, line.ProductName, line.SKU,
			line.Quantity, line.UnitPriceCents, line.TotalPriceCents,
			line.TaxCategory, line.WeightGramsEach)
		if err != nil {
			return fmt.Errorf("create order line: %w", err)
		}
	}
	return nil
}

const orderColumns = `
	id, order_number, customer_id, subtotal_cents, tax_cents,
	shipping_cents, discount_cents, total_cents, currency, status,
	payment_id, shipment_id, shipping_address_id, billing_address_id,
	coalesce(cancellation_reason, ''), coalesce(return_reason, ''), version,
	created_at, confirmed_at, shipped_at, delivered_at, cancelled_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o          domain.Order
		status     string
		paymentID  pgtype.UUID
		shipmentID pgtype.UUID
		shipAddr   pgtype.UUID
		billAddr   pgtype.UUID
		confirmed  pgtype.Timestamptz
		shipped    pgtype.Timestamptz
		delivered  pgtype.Timestamptz
		cancelled  pgtype.Timestamptz
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &o.SubtotalCents, &o.TaxCents,
		&o.ShippingCents, &o.DiscountCents, &o.TotalCents, &o.Currency, &status,
		&paymentID, &shipmentID, &shipAddr, &billAddr,
		&o.CancellationReason, &o.ReturnReason, &o.Version,
		&o.CreatedAt, &confirmed, &shipped, &delivered, &cancelled,
	)
	if err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	o.PaymentID = fromPgUUID(paymentID)
	o.ShipmentID = fromPgUUID(shipmentID)
	o.ShippingAddressID = fromPgUUID(shipAddr)
	o.BillingAddressID = fromPgUUID(billAddr)
	o.ConfirmedAt = fromPgTime(confirmed)
	o.ShippedAt = fromPgTime(shipped)
	o.DeliveredAt = fromPgTime(delivered)
	o.CancelledAt = fromPgTime(cancelled)
	return &o, nil
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("order.get", "order", id.String())
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	lines, err := s.ListOrderLines(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Lines = lines
	return o, nil
}

func (s *Store) GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("order.get", "order", number)
		}
		return nil, fmt.Errorf("get order by number: %w", err)
	}

	lines, err := s.ListOrderLines(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Lines = lines
	return o, nil
}

func (s *Store) ListOrderLines(ctx context.Context, orderID uuid.UUID) ([]domain.OrderLine, error) {
	const q = `
		SELECT id, order_id, product_id, product_name, sku, quantity,
		       unit_price_cents, total_price_cents, tax_category, weight_grams_each
		FROM order_lines WHERE order_id = $1`

	rows, err := s.db.Query(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(
			&l.ID, &l.OrderID, &l.ProductID, &l.ProductName, &l.SKU, &l.Quantity,
			&l.UnitPriceCents, &l.TotalPriceCents, &l.TaxCategory, &l.WeightGramsEach,
		); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *Store) ListOrdersByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Order, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE customer_id = $1 ORDER BY created_at DESC`,
		customerID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// UpdateOrderStatus moves an order between statuses. The row only
// changes when both the current status and the version match, which
// rejects concurrent writers with a false return.
func (s *Store) UpdateOrderStatus(ctx context.Context, params UpdateOrderStatusParams) (bool, error) {
	const q = `
		UPDATE orders
		SET status = $3,
		    version = version + 1,
		    confirmed_at = CASE WHEN $3 = 'CONFIRMED' THEN now() ELSE confirmed_at END,
		    shipped_at = CASE WHEN $3 = 'SHIPPED' THEN now() ELSE shipped_at END,
		    delivered_at = CASE WHEN $3 = 'DELIVERED' THEN now() ELSE delivered_at END,
		    cancelled_at = CASE WHEN $3 = 'CANCELLED' THEN now() ELSE cancelled_at END
		WHERE id = $1 AND status = $2 AND version = $4`

	tag, err := s.db.Exec(ctx, q,
		params.OrderID, string(params.From), string(params.To), params.Version)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetOrderShipment(ctx context.Context, orderID, shipmentID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE orders SET shipment_id = $2 WHERE id = $1`,
		orderID, shipmentID)
	if err != nil {
		return fmt.Errorf("set order shipment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("order.attach_shipment", "order", orderID.String())
	}
	return nil
}

func (s *Store) InsertOrderTransition(ctx context.Context, t *domain.OrderTransition) error {
	const q = `
		INSERT INTO order_transitions
			(id, order_id, from_status, to_status, reason, idempotency_key, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	var key any
	if t.IdempotencyKey != "" {
		key = t.IdempotencyKey
	}
	_, err := s.db.Exec(ctx, q,
		t.ID, t.OrderID, string(t.FromStatus), string(t.ToStatus),
		t.Reason, key, t.AppliedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order transition: %w", err)
	}
	return nil
}

func (s *Store) GetOrderTransitionByKey(ctx context.Context, idempotencyKey string) (*domain.OrderTransition, error) {
	const q = `
		SELECT id, order_id, from_status, to_status, coalesce(reason, ''),
		       coalesce(idempotency_key, ''), applied_at
		FROM order_transitions WHERE idempotency_key = $1`

	var (
		t    domain.OrderTransition
		from string
		to   string
	)
	err := s.db.QueryRow(ctx, q, idempotencyKey).Scan(
		&t.ID, &t.OrderID, &from, &to, &t.Reason, &t.IdempotencyKey, &t.AppliedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("order.transition", "transition", idempotencyKey)
		}
		return nil, fmt.Errorf("get order transition: %w", err)
	}
	t.FromStatus = domain.OrderStatus(from)
	t.ToStatus = domain.OrderStatus(to)
	return &t, nil
}

func (s *Store) ListOrderTransitions(ctx context.Context, orderID uuid.UUID) ([]domain.OrderTransition, error) {
	const q = `
		SELECT id, order_id, from_status, to_status, coalesce(reason, ''),
		       coalesce(idempotency_key, ''), applied_at
		FROM order_transitions WHERE order_id = $1 ORDER BY applied_at`

	rows, err := s.db.Query(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order transitions: %w", err)
	}
	defer rows.Close()

	var result []domain.OrderTransition
	for rows.Next() {
		var (
			t    domain.OrderTransition
			from string
			to   string
		)
		if err := rows.Scan(
			&t.ID, &t.OrderID, &from, &to, &t.Reason, &t.IdempotencyKey, &t.AppliedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order transition: %w", err)
		}
		t.FromStatus = domain.OrderStatus(from)
		t.ToStatus = domain.OrderStatus(to)
		result = append(result, t)
	}
	return result, rows.Err()
}

// ----------------------------------------------------------------------------
// Payments
// ----------------------------------------------------------------------------

func (s *Store) CreatePayment(ctx context.Context, p *domain.Payment) error {
	const q = `
		INSERT INTO payments
			(id, order_id, amount_cents, currency, method, provider,
			 provider_transaction_id, idempotency_key, status,
			 needs_reconciliation, reconciliation_note, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`

	_, err := s.db.Exec(ctx, q,
		p.ID, toPgUUID(p.OrderID), p.AmountCents, p.Currency, p.Method, p.Provider,
		p.ProviderTransactionID, p.IdempotencyKey, string(p.Status),
		p.NeedsReconciliation, p.ReconciliationNote, p.Version, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

const paymentColumns = `
	id, order_id, amount_cents, currency, method, provider,
	coalesce(provider_transaction_id, ''), coalesce(idempotency_key, ''), status,
	needs_reconciliation, coalesce(reconciliation_note, ''), version,
	created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p       domain.Payment
		orderID pgtype.UUID
		status  string
	)
	err := row.Scan(
		&p.ID, &orderID, &p.AmountCents, &p.Currency, &p.Method, &p.Provider,
		&p.ProviderTransactionID, &p.IdempotencyKey, &status,
		&p.NeedsReconciliation, &p.ReconciliationNote, &p.Version,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.OrderID = fromPgUUID(orderID)
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}

func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	p, err := scanPayment(s.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("payment.get", "payment", id.String())
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (s *Store) GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	p, err := scanPayment(s.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("payment.get", "payment", id.String())
		}
		return nil, fmt.Errorf("get payment for update: %w", err)
	}
	return p, nil
}

func (s *Store) GetPaymentByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	p, err := scanPayment(s.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1
		 ORDER BY created_at DESC LIMIT 1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("payment.get", "payment for order", orderID.String())
		}
		return nil, fmt.Errorf("get payment by order: %w", err)
	}
	return p, nil
}

func (s *Store) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	p, err := scanPayment(s.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("payment.get", "payment", key)
		}
		return nil, fmt.Errorf("get payment by idempotency key: %w", err)
	}
	return p, nil
}

func (s *Store) GetPaymentByProviderID(ctx context.Context, providerTransactionID string) (*domain.Payment, error) {
	p, err := scanPayment(s.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE provider_transaction_id = $1`,
		providerTransactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("payment.get", "payment", providerTransactionID)
		}
		return nil, fmt.Errorf("get payment by provider id: %w", err)
	}
	return p, nil
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, params UpdatePaymentStatusParams) (bool, error) {
	const q = `
		UPDATE payments
		SET status = $3,
		    provider_transaction_id = CASE WHEN $4 <> '' THEN $4 ELSE provider_transaction_id END,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND status = $2`

	providerID := params.ProviderCaptureID
	if providerID == "" {
		providerID = params.ProviderPaymentID
	}

	tag, err := s.db.Exec(ctx, q,
		params.PaymentID, string(params.From), string(params.To), providerID)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetPaymentOrder(ctx context.Context, paymentID, orderID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE payments SET order_id = $2, updated_at = now() WHERE id = $1`,
		paymentID, orderID)
	if err != nil {
		return fmt.Errorf("set payment order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("payment.attach", "payment", paymentID.String())
	}
	return nil
}

func (s *Store) SetPaymentNeedsReconciliation(ctx context.Context, id uuid.UUID, needs bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE payments SET needs_reconciliation = $2, updated_at = now() WHERE id = $1`,
		id, needs)
	if err != nil {
		return fmt.Errorf("set payment reconciliation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("payment.reconcile", "payment", id.String())
	}
	return nil
}

func (s *Store) CreateRefund(ctx context.Context, r *domain.Refund) error {
	const q = `
		INSERT INTO refunds
			(id, payment_id, amount_cents, reason, status, provider_refund_id, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.Exec(ctx, q,
		r.ID, r.PaymentID, r.AmountCents, r.Reason, string(r.Status),
		r.ProviderRefundID, r.CreatedAt, toPgTime(r.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("create refund: %w", err)
	}
	return nil
}

func (s *Store) UpdateRefundStatus(ctx context.Context, id uuid.UUID, status domain.RefundStatus) error {
	const q = `
		UPDATE refunds
		SET status = $2,
		    completed_at = CASE WHEN $2 = 'COMPLETED' THEN now() ELSE completed_at END
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, q, id, string(status))
	if err != nil {
		return fmt.Errorf("update refund status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("refund.update", "refund", id.String())
	}
	return nil
}

func (s *Store) SumCompletedRefunds(ctx context.Context, paymentID uuid.UUID) (int64, error) {
	var sum int64
	err := s.db.QueryRow(ctx,
		`SELECT coalesce(sum(amount_cents), 0) FROM refunds
		 WHERE payment_id = $1 AND status = 'COMPLETED'`,
		paymentID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum refunds: %w", err)
	}
	return sum, nil
}

func (s *Store) SumActiveRefunds(ctx context.Context, paymentID uuid.UUID) (int64, error) {
	var sum int64
	err := s.db.QueryRow(ctx,
		`SELECT coalesce(sum(amount_cents), 0) FROM refunds
		 WHERE payment_id = $1 AND status IN ('PENDING', 'COMPLETED')`,
		paymentID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum active refunds: %w", err)
	}
	return sum, nil
}

// ----------------------------------------------------------------------------
// Shipments
// ----------------------------------------------------------------------------

func (s *Store) CreateShipment(ctx context.Context, sh *domain.Shipment) error {
	const q = `
		INSERT INTO shipments
			(id, order_id, tracking_number, carrier, status,
			 estimated_delivery_date, delivered_at, last_event_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.Exec(ctx, q,
		sh.ID, sh.OrderID, sh.TrackingNumber, sh.Carrier, string(sh.Status),
		toPgTime(sh.EstimatedDeliveryDate), toPgTime(sh.DeliveredAt),
		toPgTime(sh.LastEventAt), sh.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create shipment: %w", err)
	}
	return nil
}

const shipmentColumns = `
	id, order_id, tracking_number, carrier, status,
	estimated_delivery_date, delivered_at, last_event_at, created_at`

func scanShipment(row pgx.Row) (*domain.Shipment, error) {
	var (
		sh        domain.Shipment
		status    string
		estimated pgtype.Timestamptz
		delivered pgtype.Timestamptz
		lastEvent pgtype.Timestamptz
	)
	err := row.Scan(
		&sh.ID, &sh.OrderID, &sh.TrackingNumber, &sh.Carrier, &status,
		&estimated, &delivered, &lastEvent, &sh.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	sh.Status = domain.ShipmentStatus(status)
	sh.EstimatedDeliveryDate = fromPgTime(estimated)
	sh.DeliveredAt = fromPgTime(delivered)
	sh.LastEventAt = fromPgTime(lastEvent)
	return &sh, nil
}

func (s *Store) GetShipment(ctx context.Context, id uuid.UUID) (*domain.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRow(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("shipment.get", "shipment", id.String())
		}
		return nil, fmt.Errorf("get shipment: %w", err)
	}
	return sh, nil
}

func (s *Store) GetShipmentByTracking(ctx context.Context, trackingNumber string) (*domain.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRow(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE tracking_number = $1`, trackingNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("shipment.get", "shipment", trackingNumber)
		}
		return nil, fmt.Errorf("get shipment by tracking: %w", err)
	}
	return sh, nil
}

func (s *Store) ListShipmentsByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Shipment, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE order_id = $1 ORDER BY created_at`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("list shipments: %w", err)
	}
	defer rows.Close()

	var result []domain.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shipment: %w", err)
		}
		result = append(result, *sh)
	}
	return result, rows.Err()
}

func (s *Store) UpdateShipmentStatus(ctx context.Context, params UpdateShipmentStatusParams) error {
	const q = `
		UPDATE shipments
		SET status = $2,
		    last_event_at = $3,
		    delivered_at = CASE WHEN $2 = 'DELIVERED' THEN $3 ELSE delivered_at END
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, q,
		params.ShipmentID, string(params.Status), params.LastEventAt)
	if err != nil {
		return fmt.Errorf("update shipment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("shipment.update", "shipment", params.ShipmentID.String())
	}
	return nil
}

func (s *Store) InsertTrackingEvent(ctx context.Context, e *domain.TrackingEvent) error {
	const q = `
		INSERT INTO tracking_events
			(id, shipment_id, status, description, location, occurred_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.Exec(ctx, q,
		e.ID, e.ShipmentID, string(e.Status), e.Description, e.Location,
		e.OccurredAt, e.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tracking event: %w", err)
	}
	return nil
}

func (s *Store) ListTrackingEvents(ctx context.Context, shipmentID uuid.UUID) ([]domain.TrackingEvent, error) {
	const q = `
		SELECT id, shipment_id, status, coalesce(description, ''),
		       coalesce(location, ''), occurred_at, recorded_at
		FROM tracking_events WHERE shipment_id = $1 ORDER BY occurred_at`

	rows, err := s.db.Query(ctx, q, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("list tracking events: %w", err)
	}
	defer rows.Close()

	var result []domain.TrackingEvent
	for rows.Next() {
		var (
			e      domain.TrackingEvent
			status string
		)
		if err := rows.Scan(
			&e.ID, &e.ShipmentID, &status, &e.Description, &e.Location,
			&e.OccurredAt, &e.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tracking event: %w", err)
		}
		e.Status = domain.ShipmentStatus(status)
		result = append(result, e)
	}
	return result, rows.Err()
}
