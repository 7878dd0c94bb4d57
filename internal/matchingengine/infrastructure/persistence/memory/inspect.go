package memory

import (
	"github.com/wyfcoding/sharematching/internal/matchingengine/domain"
)

// AllOrders 已提交订单的拷贝
func (s *Store) AllOrders() []*domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o.Clone())
	}
	return out
}

// AllTrades 已提交成交的拷贝，按成交顺序
func (s *Store) AllTrades() []*domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		c := *t
		out = append(out, &c)
	}
	return out
}

// AllBalances 已提交余额的拷贝
func (s *Store) AllBalances() []*domain.AccountBalance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.AccountBalance, 0, len(s.balances))
	for _, b := range s.balances {
		out = append(out, b.Clone())
	}
	return out
}

// AllHoldings 已提交持仓的拷贝
func (s *Store) AllHoldings() []*domain.Holding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Holding, 0, len(s.holdings))
	for _, h := range s.holdings {
		out = append(out, h.Clone())
	}
	return out
}
