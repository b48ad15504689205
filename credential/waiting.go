package credential

import (
	"sort"
	"strings"
	"time"
)

// WaitingEntry 临时挂起的 key
type WaitingEntry struct {
	Service   string    `json:"service"`
	KeyHash   string    `json:"-"`
	AddedAt   time.Time `json:"added_at"`
	ReleaseAt time.Time `json:"release_at"`
	Reason    string    `json:"reason"`
}

// 挂起原因
const (
	ReasonQuotaExhausted = "quota_exhausted"
	ReasonFailure        = "failure_cooldown"
	ReasonManual         = "manual"
)

type waitKey struct {
	service string
	hash    string
}

// WaitingList 按 (service, key_hash) 索引，同一个 key 重复加入时后写覆盖
type WaitingList struct {
	entries map[waitKey]WaitingEntry
}

func newWaitingList() *WaitingList {
	return &WaitingList{entries: make(map[waitKey]WaitingEntry)}
}

// Add 加入或覆盖
func (w *WaitingList) Add(service, hash string, now, releaseAt time.Time, reason string) {
	w.entries[waitKey{service, hash}] = WaitingEntry{
		Service:   service,
		KeyHash:   hash,
		AddedAt:   now,
		ReleaseAt: releaseAt,
		Reason:    reason,
	}
}

// ReleaseExpired 移除服务下 release_at <= now 的条目，返回被释放的 hash
func (w *WaitingList) ReleaseExpired(service string, now time.Time) []string {
	var released []string
	for k, e := range w.entries {
		if k.service == service && !e.ReleaseAt.After(now) {
			delete(w.entries, k)
			released = append(released, k.hash)
		}
	}
	sort.Strings(released)
	return released
}

// Contains 是否在等待中（不考虑是否已到期）
func (w *WaitingList) Contains(service, hash string) bool {
	_, ok := w.entries[waitKey{service, hash}]
	return ok
}

// Get 返回条目
func (w *WaitingList) Get(service, hash string) (WaitingEntry, bool) {
	e, ok := w.entries[waitKey{service, hash}]
	return e, ok
}

// Remove 移除条目
func (w *WaitingList) Remove(service, hash string) {
	delete(w.entries, waitKey{service, hash})
}

// Entries 返回服务下的条目，按释放时间排序；service 为空返回全部
func (w *WaitingList) Entries(service string) []WaitingEntry {
	var out []WaitingEntry
	for k, e := range w.entries {
		if service == "" || k.service == service {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReleaseAt.Equal(out[j].ReleaseAt) {
			return out[i].KeyHash < out[j].KeyHash
		}
		return out[i].ReleaseAt.Before(out[j].ReleaseAt)
	})
	return out
}

// EarliestRelease 服务下最早的释放时间
func (w *WaitingList) EarliestRelease(service string) (time.Time, bool) {
	var earliest time.Time
	found := false
	for k, e := range w.entries {
		if k.service != service {
			continue
		}
		if !found || e.ReleaseAt.Before(earliest) {
			earliest = e.ReleaseAt
			found = true
		}
	}
	return earliest, found
}

// document 持久化时以 key_hash 为键；不同服务出现相同 hash 时改用 service:hash
func (w *WaitingList) document() map[string]WaitingEntry {
	count := make(map[string]int, len(w.entries))
	for k := range w.entries {
		count[k.hash]++
	}
	out := make(map[string]WaitingEntry, len(w.entries))
	for k, e := range w.entries {
		key := k.hash
		if count[k.hash] > 1 {
			key = k.service + ":" + k.hash
		}
		out[key] = e
	}
	return out
}

func (w *WaitingList) load(doc map[string]WaitingEntry) {
	w.entries = make(map[waitKey]WaitingEntry, len(doc))
	for key, e := range doc {
		hash := key
		if i := strings.LastIndexByte(key, ':'); i >= 0 {
			hash = key[i+1:]
			if e.Service == "" {
				e.Service = key[:i]
			}
		}
		e.KeyHash = hash
		w.entries[waitKey{e.Service, hash}] = e
	}
}
