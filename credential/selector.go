package credential

import "time"

// Selector 最少使用优先；用量相同时按 KeyStore 中的顺序
type Selector struct {
	ledger *Ledger
}

func newSelector(ledger *Ledger) *Selector {
	return &Selector{ledger: ledger}
}

// peek 只挑选不计数
func (s *Selector) peek(candidates []Credential) (Credential, bool) {
	if len(candidates) == 0 {
		return Credential{}, false
	}
	best := candidates[0]
	bestUsage := s.ledger.Lifetime(best.service, best.hash)
	for _, c := range candidates[1:] {
		u := s.ledger.Lifetime(c.service, c.hash)
		if u < bestUsage || (u == bestUsage && c.index < best.index) {
			best, bestUsage = c, u
		}
	}
	return best, true
}

// commit 记一次选中
func (s *Selector) commit(c Credential, now time.Time) {
	s.ledger.IncrementUsage(c.service, c.hash, now)
}

// Select 挑选并计数
func (s *Selector) Select(candidates []Credential, now time.Time) (Credential, bool) {
	c, ok := s.peek(candidates)
	if !ok {
		return Credential{}, false
	}
	s.commit(c, now)
	return c, true
}
