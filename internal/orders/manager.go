// Package orders ties the trading client, the record store and the session
// together: orders placed through the manager are persisted, and the
// session's order-update topic keeps their stored status current as
// executions stream in.
package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfabric/venuelink/internal/session"
	"github.com/quantfabric/venuelink/internal/store"
	"github.com/quantfabric/venuelink/internal/trading"
)

const ordersCollection = "orders"

// OrderTopic is the venue's private stream of order updates.
const OrderTopic = "order"

// Manager orchestrates order placement, persistence and live tracking.
type Manager struct {
	trading *trading.Client
	store   store.Store
	sess    *session.Session
	log     zerolog.Logger
}

func NewManager(tc *trading.Client, st store.Store, sess *session.Session, logger zerolog.Logger) *Manager {
	return &Manager{trading: tc, store: st, sess: sess, log: logger}
}

// orderUpdate is one entry of the order topic's data payload.
type orderUpdate struct {
	OrderID     string `json:"orderId"`
	Symbol      string `json:"symbol"`
	OrderStatus string `json:"orderStatus"`
	UpdatedTime string `json:"updatedTime"`
}

// TrackOrders subscribes to the order-update topic so stored records follow
// the venue's view of each order. The subscription survives reconnects like
// any other registry entry.
func (m *Manager) TrackOrders() error {
	return m.sess.Subscribe(OrderTopic, func(msg session.Message) error {
		var updates []orderUpdate
		if err := json.Unmarshal(msg.Data, &updates); err != nil {
			return fmt.Errorf("failed to decode order update: %w", err)
		}
		for _, u := range updates {
			if u.OrderID == "" {
				continue
			}
			n, err := m.store.Update(context.Background(), ordersCollection,
				store.Record{
					"status":     u.OrderStatus,
					"updated_at": msg.ServerTime.UnixMilli(),
				},
				store.Predicate{"order_id": u.OrderID})
			if err != nil {
				return fmt.Errorf("failed to persist order update: %w", err)
			}
			if n == 0 {
				// Order placed outside this manager; nothing to update.
				m.log.Debug().Str("order_id", u.OrderID).Msg("Update for untracked order")
				continue
			}
			m.log.Info().Str("order_id", u.OrderID).Str("status", u.OrderStatus).
				Msg("Order status updated")
		}
		return nil
	})
}

// PlaceOrder submits the order and inserts its record.
func (m *Manager) PlaceOrder(ctx context.Context, req trading.OrderRequest) (*trading.OrderAck, error) {
	ack, err := m.trading.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	rec := store.Record{
		"order_id":        ack.OrderID,
		"client_order_id": ack.ClientOrderID,
		"symbol":          req.Symbol,
		"side":            req.Side,
		"order_type":      req.OrderType,
		"qty":             req.Qty.String(),
		"price":           req.Price.String(),
		"status":          "New",
		"created_at":      now,
		"updated_at":      now,
	}
	if err := m.store.Insert(ctx, ordersCollection, rec); err != nil {
		// The order is live on the venue even if persistence failed.
		m.log.Error().Err(err).Str("order_id", ack.OrderID).
			Msg("Order placed but failed to persist record")
		return ack, err
	}
	return ack, nil
}

// CancelOrder cancels the order on the venue and marks its record.
func (m *Manager) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if _, err := m.trading.CancelOrder(ctx, symbol, orderID); err != nil {
		return err
	}
	_, err := m.store.Update(ctx, ordersCollection,
		store.Record{"status": "Cancelled", "updated_at": time.Now().UnixMilli()},
		store.Predicate{"order_id": orderID})
	return err
}

// nonFinalStatuses are the order states the venue may still move.
var nonFinalStatuses = []string{"New", "PartiallyFilled"}

// SyncOrders reconciles stored non-final orders against the venue: every
// record still marked open is re-queried over REST and its status refreshed.
// This catches transitions missed while the session was down. Returns the
// number of records whose status changed.
func (m *Manager) SyncOrders(ctx context.Context) (int, error) {
	synced := 0
	for _, status := range nonFinalStatuses {
		recs, err := m.store.Select(ctx, ordersCollection, store.Predicate{"status": status})
		if err != nil {
			return synced, err
		}
		for _, rec := range recs {
			orderID, _ := rec["order_id"].(string)
			symbol, _ := rec["symbol"].(string)
			if orderID == "" {
				continue
			}
			order, err := m.trading.GetOrder(ctx, symbol, orderID)
			if err != nil {
				m.log.Warn().Err(err).Str("order_id", orderID).Msg("Order sync query failed")
				continue
			}
			if order.Status == "" || order.Status == status {
				continue
			}
			n, err := m.store.Update(ctx, ordersCollection,
				store.Record{"status": order.Status, "updated_at": time.Now().UnixMilli()},
				store.Predicate{"order_id": orderID})
			if err != nil {
				return synced, err
			}
			if n > 0 {
				synced++
				m.log.Info().Str("order_id", orderID).Str("status", order.Status).
					Msg("Order reconciled with venue")
			}
		}
	}
	m.log.Info().Int("synced", synced).Msg("Order sync complete")
	return synced, nil
}

// OrdersByStatus returns stored order records with the given status.
func (m *Manager) OrdersByStatus(ctx context.Context, status string) ([]store.Record, error) {
	return m.store.Select(ctx, ordersCollection, store.Predicate{"status": status})
}
