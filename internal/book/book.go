// Package book implements a price-time priority limit order book for a
// single market.
//
// Ordering:
//   - Bids: price descending, insertion sequence ascending on ties
//   - Asks: price ascending, insertion sequence ascending on ties
//
// Matching never consults the wall clock; given the same insertions it
// produces the same trades.
package book

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/mmgame/internal/model"
)

// ErrInvalidOrder is returned for non-positive price or quantity.
var ErrInvalidOrder = errors.New("invalid order")

// FillValidator approves or vetoes a prospective fill before it executes.
// Returning false stops the matching loop; orders already reduced stay in
// the book.
type FillValidator func(buyerID, sellerID, marketID string, quantity int) bool

// Book holds the resting orders for one market.
type Book struct {
	marketID string
	bids     []*model.Order
	asks     []*model.Order
	orders   map[string]*model.Order
	nextSeq  uint64
	lastPx   *float64
}

// New creates an empty book bound to a market.
func New(marketID string) *Book {
	return &Book{
		marketID: marketID,
		orders:   make(map[string]*model.Order),
	}
}

// MarketID returns the market this book trades.
func (b *Book) MarketID() string {
	return b.marketID
}

// AddOrder inserts a limit order and runs the matching loop. It returns the
// inserted order (remaining quantity reflects any fills) and the trades
// produced, in execution order.
func (b *Book) AddOrder(playerID string, side model.Side, price float64, quantity int, validator FillValidator) (*model.Order, []model.Trade, error) {
	if price <= 0 || quantity <= 0 {
		return nil, nil, ErrInvalidOrder
	}

	order := &model.Order{
		ID:        uuid.NewString(),
		MarketID:  b.marketID,
		PlayerID:  playerID,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Remaining: quantity,
		CreatedAt: time.Now().UnixMilli(),
		Seq:       b.nextSeq,
	}
	b.nextSeq++
	b.orders[order.ID] = order

	if side == model.SideBid {
		b.bids = append(b.bids, order)
		sortBids(b.bids)
	} else {
		b.asks = append(b.asks, order)
		sortAsks(b.asks)
	}

	trades := b.match(validator)
	return order, trades, nil
}

// CancelOrder removes a resting order. Returns false if the order is
// unknown or already fully filled.
func (b *Book) CancelOrder(orderID string) bool {
	order, ok := b.orders[orderID]
	if !ok || order.Remaining == 0 {
		return false
	}
	delete(b.orders, orderID)
	if order.Side == model.SideBid {
		b.bids = removeOrder(b.bids, orderID)
	} else {
		b.asks = removeOrder(b.asks, orderID)
	}
	return true
}

// Spread returns bestAsk − bestBid, or false when either side is empty.
func (b *Book) Spread() (float64, bool) {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return 0, false
	}
	return b.asks[0].Price - b.bids[0].Price, true
}

// BestBid returns the highest resting bid, or nil.
func (b *Book) BestBid() *model.Order {
	if len(b.bids) == 0 {
		return nil
	}
	return b.bids[0]
}

// BestAsk returns the lowest resting ask, or nil.
func (b *Book) BestAsk() *model.Order {
	if len(b.asks) == 0 {
		return nil
	}
	return b.asks[0]
}

// Snapshot aggregates resting orders into price levels, each with its total
// remaining quantity and contributing players, sorted per side ordering.
func (b *Book) Snapshot() model.BookSnapshot {
	snap := model.BookSnapshot{
		Bids: aggregate(b.bids),
		Asks: aggregate(b.asks),
	}
	if b.lastPx != nil {
		px := *b.lastPx
		snap.LastTradePrice = &px
	}
	return snap
}

// match runs the crossing loop. Execution price is the earlier-inserted
// order's price, so a resting order keeps its quoted price when a
// marketable order crosses into it.
func (b *Book) match(validator FillValidator) []model.Trade {
	var trades []model.Trade

	for len(b.bids) > 0 && len(b.asks) > 0 && b.bids[0].Price >= b.asks[0].Price {
		bid, ask := b.bids[0], b.asks[0]

		qty := bid.Remaining
		if ask.Remaining < qty {
			qty = ask.Remaining
		}

		if validator != nil && !validator(bid.PlayerID, ask.PlayerID, b.marketID, qty) {
			break
		}

		price := bid.Price
		if ask.Seq < bid.Seq {
			price = ask.Price
		}

		trades = append(trades, model.Trade{
			ID:         uuid.NewString(),
			MarketID:   b.marketID,
			BuyerID:    bid.PlayerID,
			SellerID:   ask.PlayerID,
			BidOrderID: bid.ID,
			AskOrderID: ask.ID,
			Price:      price,
			Quantity:   qty,
			Timestamp:  time.Now().UnixMilli(),
		})
		px := price
		b.lastPx = &px

		bid.Remaining -= qty
		ask.Remaining -= qty
		if bid.Remaining == 0 {
			b.bids = b.bids[1:]
			delete(b.orders, bid.ID)
		}
		if ask.Remaining == 0 {
			b.asks = b.asks[1:]
			delete(b.orders, ask.ID)
		}
	}

	return trades
}

func sortBids(orders []*model.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].Price != orders[j].Price {
			return orders[i].Price > orders[j].Price
		}
		return orders[i].Seq < orders[j].Seq
	})
}

func sortAsks(orders []*model.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].Price != orders[j].Price {
			return orders[i].Price < orders[j].Price
		}
		return orders[i].Seq < orders[j].Seq
	})
}

func removeOrder(side []*model.Order, orderID string) []*model.Order {
	for i, o := range side {
		if o.ID == orderID {
			return append(side[:i], side[i+1:]...)
		}
	}
	return side
}

func aggregate(side []*model.Order) []model.PriceLevel {
	var levels []model.PriceLevel
	for _, o := range side {
		if n := len(levels); n > 0 && levels[n-1].Price == o.Price {
			levels[n-1].Quantity += o.Remaining
			levels[n-1].PlayerIDs = appendUnique(levels[n-1].PlayerIDs, o.PlayerID)
			continue
		}
		levels = append(levels, model.PriceLevel{
			Price:     o.Price,
			Quantity:  o.Remaining,
			PlayerIDs: []string{o.PlayerID},
		})
	}
	return levels
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
