package credential

import (
	"sort"
	"time"
)

// WaitingDetail 等待中 key 的明细
type WaitingDetail struct {
	KeyHash   string    `json:"key_hash"`
	ReleaseAt time.Time `json:"release_at"`
	Reason    string    `json:"reason"`
}

// HealthReport 服务的健康快照。Total = Active + Waiting + Blocked。
type HealthReport struct {
	Service         string          `json:"service"`
	Total           int             `json:"total"`
	Active          int             `json:"active"`
	Waiting         int             `json:"waiting"`
	Blocked         int             `json:"blocked"`
	WaitingDetails  []WaitingDetail `json:"waiting_details"`
	BlockedHashes   []string        `json:"blocked_hashes"`
	Recommendations []string        `json:"recommendations,omitempty"`
}

// Healthy 至少还有一个可用 key
func (r HealthReport) Healthy() bool { return r.Active > 0 }

const lowActiveThreshold = 3

// buildHealth 纯计算，不修改任何状态；已到期的等待条目按可用计
func buildHealth(service string, creds []Credential, waiting *WaitingList, blocked *BlockList, now time.Time) HealthReport {
	r := HealthReport{
		Service:        service,
		Total:          len(creds),
		WaitingDetails: []WaitingDetail{},
		BlockedHashes:  []string{},
	}
	for _, c := range creds {
		if blocked.IsBlocked(c.hash) {
			r.Blocked++
			r.BlockedHashes = append(r.BlockedHashes, c.hash)
			continue
		}
		if e, ok := waiting.Get(service, c.hash); ok && e.ReleaseAt.After(now) {
			r.Waiting++
			r.WaitingDetails = append(r.WaitingDetails, WaitingDetail{
				KeyHash:   c.hash,
				ReleaseAt: e.ReleaseAt,
				Reason:    e.Reason,
			})
			continue
		}
		r.Active++
	}
	sort.Strings(r.BlockedHashes)
	sort.Slice(r.WaitingDetails, func(i, j int) bool {
		return r.WaitingDetails[i].ReleaseAt.Before(r.WaitingDetails[j].ReleaseAt)
	})
	r.Recommendations = recommend(r)
	return r
}

func recommend(r HealthReport) []string {
	var out []string
	switch {
	case r.Total == 0:
		out = append(out, "no credentials configured, add keys to the environment")
	case r.Active < lowActiveThreshold:
		out = append(out, "fewer than 3 active credentials, consider adding more keys")
	}
	if r.Blocked > 0 {
		out = append(out, "replace permanently blocked credentials")
	}
	return out
}
