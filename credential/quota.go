package credential

import "time"

// QuotaVerdict 配额检查结果
type QuotaVerdict int

const (
	QuotaOK QuotaVerdict = iota
	QuotaExhausted
)

func (v QuotaVerdict) String() string {
	if v == QuotaExhausted {
		return "exhausted"
	}
	return "ok"
}

// QuotaGuard 检查 key 在其窗口内是否已超过上限。
// 计数达到上限仍可用，超过上限才视为耗尽。
type QuotaGuard struct {
	ledger *Ledger
}

func newQuotaGuard(ledger *Ledger) *QuotaGuard {
	return &QuotaGuard{ledger: ledger}
}

// Check 未配置配额的服务总是 QuotaOK
func (g *QuotaGuard) Check(spec ServiceSpec, c Credential, now time.Time) QuotaVerdict {
	if !spec.Quota.Enabled() {
		return QuotaOK
	}
	r := g.ledger.Effective(c.service, c.hash, now)
	var used uint64
	switch spec.Quota.Window {
	case WindowDaily:
		used = r.DailyUsage
	case WindowMonthly:
		used = r.MonthlyUsage
	}
	if used > spec.Quota.Limit {
		return QuotaExhausted
	}
	return QuotaOK
}

// ReleaseAt 耗尽的 key 何时可以再次参与选择
func (g *QuotaGuard) ReleaseAt(spec ServiceSpec, c Credential, now time.Time) time.Time {
	if spec.Cooldown > 0 {
		return now.Add(spec.Cooldown)
	}
	if spec.Quota.Window == WindowDaily {
		return g.ledger.policy.nextDaily(now)
	}
	r, ok := g.ledger.records[c.service][c.hash]
	if !ok {
		r = &UsageRecord{LastMonthlyReset: now}
	}
	return g.ledger.policy.nextMonthly(r, now)
}

// Remaining 返回窗口内剩余单位；未配置配额返回 false
func (g *QuotaGuard) Remaining(spec ServiceSpec, c Credential, now time.Time) (uint64, bool) {
	if !spec.Quota.Enabled() {
		return 0, false
	}
	r := g.ledger.Effective(c.service, c.hash, now)
	used := r.DailyUsage
	if spec.Quota.Window == WindowMonthly {
		used = r.MonthlyUsage
	}
	if used >= spec.Quota.Limit {
		return 0, true
	}
	return spec.Quota.Limit - used, true
}
