package engine

import (
	"container/list"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// priceLevel holds FIFO orders for one price.
type priceLevel struct {
	price  decimal.Decimal
	orders *list.List // of *Order, oldest first
}

// orderRef locates a resting order inside the book for O(1) removal.
type orderRef struct {
	side  Side
	price decimal.Decimal
	elem  *list.Element
}

// OrderBook keeps both sides of the market, each a set of price levels with
// FIFO queues. Price-time priority: best price first, oldest order first
// within a level.
type OrderBook struct {
	// key = price.String(), value = *priceLevel
	bids map[string]*priceLevel
	asks map[string]*priceLevel

	// to keep prices sorted; for a single commodity this is fine
	bidPrices []decimal.Decimal // sorted desc
	askPrices []decimal.Decimal // sorted asc

	ordersByID map[string]*orderRef
	seq        int64

	bidCount int
	askCount int
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		bids:       make(map[string]*priceLevel),
		asks:       make(map[string]*priceLevel),
		bidPrices:  make([]decimal.Decimal, 0),
		askPrices:  make([]decimal.Decimal, 0),
		ordersByID: make(map[string]*orderRef),
	}
}

// Insert adds an order to its side. The book assigns the time-priority
// sequence number.
func (ob *OrderBook) Insert(o *Order) error {
	if o.Quantity <= 0 || o.Remaining <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}
	if !o.Price.Equal(o.Price.Round(2)) {
		return fmt.Errorf("%w: price %s is finer than cents", ErrInvalidOrder, o.Price)
	}
	if _, exists := ob.ordersByID[o.ID]; exists {
		return fmt.Errorf("%w: order %s already in book", ErrInvalidOrder, o.ID)
	}

	ob.seq++
	o.Seq = ob.seq

	key := o.Price.String()
	var lvl *priceLevel
	switch o.Side {
	case SideBuy:
		lvl = ob.bids[key]
		if lvl == nil {
			lvl = &priceLevel{price: o.Price, orders: list.New()}
			ob.bids[key] = lvl
			ob.bidPrices = insertSorted(ob.bidPrices, o.Price, true)
		}
		ob.bidCount++
	case SideSell:
		lvl = ob.asks[key]
		if lvl == nil {
			lvl = &priceLevel{price: o.Price, orders: list.New()}
			ob.asks[key] = lvl
			ob.askPrices = insertSorted(ob.askPrices, o.Price, false)
		}
		ob.askCount++
	default:
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, o.Side)
	}

	elem := lvl.orders.PushBack(o)
	ob.ordersByID[o.ID] = &orderRef{side: o.Side, price: o.Price, elem: elem}
	return nil
}

// BestBuy returns the highest-priced bid, oldest first at that price,
// or nil if the bid side is empty.
func (ob *OrderBook) BestBuy() *Order {
	lvl := ob.bestBid()
	if lvl == nil {
		return nil
	}
	return lvl.orders.Front().Value.(*Order)
}

// BestSell returns the lowest-priced ask, oldest first at that price,
// or nil if the ask side is empty.
func (ob *OrderBook) BestSell() *Order {
	lvl := ob.bestAsk()
	if lvl == nil {
		return nil
	}
	return lvl.orders.Front().Value.(*Order)
}

func (ob *OrderBook) bestBid() *priceLevel {
	if len(ob.bidPrices) == 0 {
		return nil
	}
	return ob.bids[ob.bidPrices[0].String()]
}

func (ob *OrderBook) bestAsk() *priceLevel {
	if len(ob.askPrices) == 0 {
		return nil
	}
	return ob.asks[ob.askPrices[0].String()]
}

// Remove takes an order out of the book regardless of side.
func (ob *OrderBook) Remove(id string) error {
	ref, ok := ob.ordersByID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	ob.unlink(id, ref)
	return nil
}

// fill decrements remaining by qty and removes the order when exhausted.
// Only the matcher calls this.
func (ob *OrderBook) fill(o *Order, qty int64) {
	o.Remaining -= qty
	if o.Remaining == 0 {
		if ref, ok := ob.ordersByID[o.ID]; ok {
			ob.unlink(o.ID, ref)
		}
	}
}

func (ob *OrderBook) unlink(id string, ref *orderRef) {
	key := ref.price.String()
	switch ref.side {
	case SideBuy:
		lvl := ob.bids[key]
		lvl.orders.Remove(ref.elem)
		ob.bidCount--
		if lvl.orders.Len() == 0 {
			delete(ob.bids, key)
			ob.bidPrices = removePrice(ob.bidPrices, ref.price)
		}
	case SideSell:
		lvl := ob.asks[key]
		lvl.orders.Remove(ref.elem)
		ob.askCount--
		if lvl.orders.Len() == 0 {
			delete(ob.asks, key)
			ob.askPrices = removePrice(ob.askPrices, ref.price)
		}
	}
	delete(ob.ordersByID, id)
}

// Clear empties both sides and returns the discarded orders, used by the
// market to expire day orders at round close.
func (ob *OrderBook) Clear() []*Order {
	dropped := make([]*Order, 0, len(ob.ordersByID))
	for _, p := range ob.bidPrices {
		for e := ob.bids[p.String()].orders.Front(); e != nil; e = e.Next() {
			dropped = append(dropped, e.Value.(*Order))
		}
	}
	for _, p := range ob.askPrices {
		for e := ob.asks[p.String()].orders.Front(); e != nil; e = e.Next() {
			dropped = append(dropped, e.Value.(*Order))
		}
	}
	ob.bids = make(map[string]*priceLevel)
	ob.asks = make(map[string]*priceLevel)
	ob.bidPrices = ob.bidPrices[:0]
	ob.askPrices = ob.askPrices[:0]
	ob.ordersByID = make(map[string]*orderRef)
	ob.bidCount = 0
	ob.askCount = 0
	return dropped
}

// PendingBuys reports the number of resting buy orders.
func (ob *OrderBook) PendingBuys() int { return ob.bidCount }

// PendingSells reports the number of resting sell orders.
func (ob *OrderBook) PendingSells() int { return ob.askCount }

func insertSorted(prices []decimal.Decimal, p decimal.Decimal, desc bool) []decimal.Decimal {
	i := sort.Search(len(prices), func(i int) bool {
		if desc {
			return prices[i].LessThan(p)
		}
		return prices[i].GreaterThan(p)
	})
	prices = append(prices, decimal.Decimal{})
	copy(prices[i+1:], prices[i:])
	prices[i] = p
	return prices
}

func removePrice(prices []decimal.Decimal, p decimal.Decimal) []decimal.Decimal {
	for i, v := range prices {
		if v.Equal(p) {
			return append(prices[:i], prices[i+1:]...)
		}
	}
	return prices
}
