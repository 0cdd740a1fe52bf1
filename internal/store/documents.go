package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"commerce-sync/internal/models"
)

// Collection-level lock keys. Full-collection replaces and product writes
// serialize here; order writes only ever touch their own row and use
// per-record keys instead.
const (
	productsLockKey = "products"
	ordersLockKey   = "orders"
)

// LoadProducts reads the complete product collection.
func (s *Store) LoadProducts(ctx context.Context) ([]models.Product, error) {
	return loadCollection[models.Product](ctx, s, "SELECT doc FROM products ORDER BY product_id")
}

// SaveProducts replaces the complete product collection in one transaction.
func (s *Store) SaveProducts(ctx context.Context, products []models.Product) error {
	unlock := s.LockKey(productsLockKey)
	defer unlock()
	return s.replaceCollection(ctx, "products", "product_id", len(products), func(i int) (string, interface{}) {
		return products[i].ProductID, products[i]
	})
}

// LoadOrders reads the complete order collection.
func (s *Store) LoadOrders(ctx context.Context) ([]models.Order, error) {
	return loadCollection[models.Order](ctx, s, "SELECT doc FROM orders ORDER BY order_id")
}

// SaveOrders replaces the complete order collection in one transaction.
func (s *Store) SaveOrders(ctx context.Context, orders []models.Order) error {
	unlock := s.LockKey(ordersLockKey)
	defer unlock()
	return s.replaceCollection(ctx, "orders", "order_id", len(orders), func(i int) (string, interface{}) {
		return orders[i].OrderID, orders[i]
	})
}

// GetProduct returns one product by its external ID.
func (s *Store) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	return loadDocument[models.Product](ctx, s,
		"SELECT doc FROM products WHERE product_id = $1", productID, ErrProductNotFound)
}

// GetOrder returns one order by ID.
func (s *Store) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return loadDocument[models.Order](ctx, s,
		"SELECT doc FROM orders WHERE order_id = $1", orderID, ErrOrderNotFound)
}

// AddProduct inserts a new product row, failing if the ID is taken.
func (s *Store) AddProduct(ctx context.Context, product models.Product) error {
	unlock := s.LockKey(productsLockKey)
	defer unlock()

	doc, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("failed to encode product %s: %w", product.ProductID, err)
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO products (product_id, doc) VALUES ($1, $2) ON CONFLICT (product_id) DO NOTHING",
		product.ProductID, doc)
	if err != nil {
		return fmt.Errorf("failed to insert product %s: %w", product.ProductID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrProductExists, product.ProductID)
	}
	return nil
}

// DeleteProduct removes one product row.
func (s *Store) DeleteProduct(ctx context.Context, productID string) error {
	unlock := s.LockKey(productsLockKey)
	defer unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE product_id = $1", productID)
	if err != nil {
		return fmt.Errorf("failed to delete product %s: %w", productID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return nil
}

// UpdateProduct applies fn to one product and writes back only that row, so
// concurrent writes to other products are never overwritten.
func (s *Store) UpdateProduct(ctx context.Context, productID string, fn func(*models.Product) error) (*models.Product, error) {
	unlock := s.LockKey(productsLockKey)
	defer unlock()
	return updateDocument(ctx, s, "products", "product_id", productID, ErrProductNotFound, fn)
}

// UpdateOrder applies fn to one order under the per-record lock and writes
// back only that row.
func (s *Store) UpdateOrder(ctx context.Context, orderID string, fn func(*models.Order) error) (*models.Order, error) {
	unlock := s.LockKey("order:" + orderID)
	defer unlock()
	return updateDocument(ctx, s, "orders", "order_id", orderID, ErrOrderNotFound, fn)
}

// AppendOrder inserts a new order row, failing if the ID is already taken.
func (s *Store) AppendOrder(ctx context.Context, order models.Order) error {
	unlock := s.LockKey("order:" + order.OrderID)
	defer unlock()

	doc, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode order %s: %w", order.OrderID, err)
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO orders (order_id, doc) VALUES ($1, $2) ON CONFLICT (order_id) DO NOTHING",
		order.OrderID, doc)
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", order.OrderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrOrderExists, order.OrderID)
	}
	return nil
}

// DeleteOrder removes one order row. Used to back out a local order whose
// escrow lock never reached the chain.
func (s *Store) DeleteOrder(ctx context.Context, orderID string) error {
	unlock := s.LockKey("order:" + orderID)
	defer unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM orders WHERE order_id = $1", orderID)
	if err != nil {
		return fmt.Errorf("failed to delete order %s: %w", orderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

// loadDocument reads and decodes a single document row.
func loadDocument[T any](ctx context.Context, s *Store, query, key string, missing error) (*T, error) {
	var doc []byte
	err := s.db.GetContext(ctx, &doc, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", missing, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", key, err)
	}
	var record T
	if err := json.Unmarshal(doc, &record); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", key, err)
	}
	return &record, nil
}

// updateDocument is the read-mutate-write cycle for a single row. Callers
// hold the appropriate lock.
func updateDocument[T any](ctx context.Context, s *Store, table, keyColumn, key string, missing error, fn func(*T) error) (*T, error) {
	record, err := loadDocument[T](ctx, s,
		fmt.Sprintf("SELECT doc FROM %s WHERE %s = $1", table, keyColumn), key, missing)
	if err != nil {
		return nil, err
	}
	if err := fn(record); err != nil {
		return nil, err
	}
	doc, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document %s: %w", key, err)
	}
	update := fmt.Sprintf("UPDATE %s SET doc = $2 WHERE %s = $1", table, keyColumn)
	if _, err := s.db.ExecContext(ctx, update, key, doc); err != nil {
		return nil, fmt.Errorf("failed to update document %s: %w", key, err)
	}
	return record, nil
}

// loadCollection reads every document in a collection.
func loadCollection[T any](ctx context.Context, s *Store, query string) ([]T, error) {
	var docs [][]byte
	if err := s.db.SelectContext(ctx, &docs, query); err != nil {
		return nil, fmt.Errorf("failed to load collection: %w", err)
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var record T
		if err := json.Unmarshal(doc, &record); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		out = append(out, record)
	}
	return out, nil
}

// replaceCollection serializes every record before touching the database,
// then replaces the table contents in one transaction.
func (s *Store) replaceCollection(ctx context.Context, table, keyColumn string, n int, record func(int) (string, interface{})) error {
	type row struct {
		key string
		doc []byte
	}
	rows := make([]row, 0, n)
	for i := 0; i < n; i++ {
		key, value := record(i)
		doc, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode document %s: %w", key, err)
		}
		rows = append(rows, row{key: key, doc: doc})
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s, doc) VALUES ($1, $2)", table, keyColumn)
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, insert, r.key, r.doc); err != nil {
			return fmt.Errorf("failed to write %s/%s: %w", table, r.key, err)
		}
	}
	return tx.Commit()
}
