package credential

import (
	"sort"
	"time"
)

// =============================================================================
// 🚫 BlockList：永久封禁，全局 hash 集合
// =============================================================================

// BlockList 失败计数达到阈值后封禁。封禁集合不区分服务。
type BlockList struct {
	ledger  *Ledger
	blocked map[string]struct{}
}

func newBlockList(ledger *Ledger) *BlockList {
	return &BlockList{ledger: ledger, blocked: make(map[string]struct{})}
}

// IsBlocked 是否已封禁
func (b *BlockList) IsBlocked(hash string) bool {
	_, ok := b.blocked[hash]
	return ok
}

// RecordFailure 记录失败，返回本次是否触发封禁与累计失败数
func (b *BlockList) RecordFailure(service, hash, msg string, threshold int, now time.Time) (bool, uint64) {
	n := b.ledger.IncrementErrors(service, hash, msg, now)
	if b.IsBlocked(hash) {
		return false, n
	}
	if threshold > 0 && n >= uint64(threshold) {
		b.blocked[hash] = struct{}{}
		return true, n
	}
	return false, n
}

// Block 直接封禁
func (b *BlockList) Block(hash string) {
	b.blocked[hash] = struct{}{}
}

// Hashes 返回排序后的封禁集合
func (b *BlockList) Hashes() []string {
	out := make([]string, 0, len(b.blocked))
	for h := range b.blocked {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

func (b *BlockList) load(hashes []string) {
	b.blocked = make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		b.blocked[h] = struct{}{}
	}
}
