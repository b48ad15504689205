package credential

import (
	"time"
)

// =============================================================================
// 📊 UsageLedger：每个 (service, key_hash) 的计数
// =============================================================================

const dateLayout = "2006-01-02"

// LastError 最近一次失败
type LastError struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// UsageRecord 单个 key 的用量记录，持久化字段名保持稳定
type UsageRecord struct {
	Usage            uint64     `json:"usage"`
	DailyUsage       uint64     `json:"daily_usage"`
	MonthlyUsage     uint64     `json:"monthly_usage"`
	LastUsedDate     string     `json:"last_used_date,omitempty"`
	LastMonthlyReset time.Time  `json:"last_monthly_reset"`
	Errors           uint64     `json:"errors"`
	LastError        *LastError `json:"last_error,omitempty"`
}

// windowPolicy 日/月窗口的切换规则
type windowPolicy struct {
	mode   MonthlyResetMode
	period time.Duration
}

// dailyExpired 记录的日计数是否属于过去的自然日
func (w windowPolicy) dailyExpired(r *UsageRecord, now time.Time) bool {
	if r.LastUsedDate == "" {
		return false
	}
	return r.LastUsedDate < now.Format(dateLayout)
}

// monthlyExpired 月计数是否需要清零
func (w windowPolicy) monthlyExpired(r *UsageRecord, now time.Time) bool {
	if r.LastMonthlyReset.IsZero() {
		return false
	}
	if w.mode == MonthlyCalendar {
		ly, lm, _ := r.LastMonthlyReset.In(now.Location()).Date()
		ny, nm, _ := now.Date()
		return ny > ly || (ny == ly && nm > lm)
	}
	return !now.Before(r.LastMonthlyReset.Add(w.period))
}

// nextDaily 下一次日窗口重置时间（本地零点）
func (w windowPolicy) nextDaily(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// nextMonthly 下一次月窗口重置时间
func (w windowPolicy) nextMonthly(r *UsageRecord, now time.Time) time.Time {
	if w.mode == MonthlyCalendar {
		y, m, _ := now.Date()
		return time.Date(y, m+1, 1, 0, 0, 0, 0, now.Location())
	}
	base := r.LastMonthlyReset
	if base.IsZero() {
		base = now
	}
	return base.Add(w.period)
}

// effective 返回按 now 计算后的计数视图，不修改原记录
func (w windowPolicy) effective(r *UsageRecord, now time.Time) UsageRecord {
	out := *r
	if w.dailyExpired(r, now) {
		out.DailyUsage = 0
	}
	if w.monthlyExpired(r, now) {
		out.MonthlyUsage = 0
	}
	return out
}

// rollover 就地应用窗口切换
func (w windowPolicy) rollover(r *UsageRecord, now time.Time) {
	if w.dailyExpired(r, now) {
		r.DailyUsage = 0
	}
	if w.monthlyExpired(r, now) {
		r.MonthlyUsage = 0
		r.LastMonthlyReset = now
	}
}

// Ledger 用量账本，不加锁，由 Pool 的互斥锁保护
type Ledger struct {
	policy  windowPolicy
	records map[string]map[string]*UsageRecord
}

func newLedger(policy windowPolicy) *Ledger {
	return &Ledger{
		policy:  policy,
		records: make(map[string]map[string]*UsageRecord),
	}
}

// record 取出或创建记录，并应用窗口切换
func (l *Ledger) record(service, hash string, now time.Time) *UsageRecord {
	bySvc, ok := l.records[service]
	if !ok {
		bySvc = make(map[string]*UsageRecord)
		l.records[service] = bySvc
	}
	r, ok := bySvc[hash]
	if !ok {
		r = &UsageRecord{LastMonthlyReset: now}
		bySvc[hash] = r
		return r
	}
	l.policy.rollover(r, now)
	return r
}

// Get 返回记录副本
func (l *Ledger) Get(service, hash string) (UsageRecord, bool) {
	r, ok := l.records[service][hash]
	if !ok {
		return UsageRecord{}, false
	}
	return *r, true
}

// Effective 返回按 now 计算的计数；不存在的记录视为全零
func (l *Ledger) Effective(service, hash string, now time.Time) UsageRecord {
	r, ok := l.records[service][hash]
	if !ok {
		return UsageRecord{}
	}
	return l.policy.effective(r, now)
}

// Lifetime 返回累计选中次数
func (l *Ledger) Lifetime(service, hash string) uint64 {
	if r, ok := l.records[service][hash]; ok {
		return r.Usage
	}
	return 0
}

// IncrementUsage 选中一次
func (l *Ledger) IncrementUsage(service, hash string, now time.Time) {
	l.record(service, hash, now).Usage++
}

// AddUnits 记录一次成功调用消耗的配额单位，0 视为 1
func (l *Ledger) AddUnits(service, hash string, units uint64, now time.Time) {
	if units == 0 {
		units = 1
	}
	r := l.record(service, hash, now)
	r.DailyUsage += units
	r.MonthlyUsage += units
	r.LastUsedDate = now.Format(dateLayout)
}

// IncrementErrors 记录一次失败，返回累计失败次数
func (l *Ledger) IncrementErrors(service, hash, msg string, now time.Time) uint64 {
	r := l.record(service, hash, now)
	r.Errors++
	r.LastError = &LastError{Message: msg, Timestamp: now}
	return r.Errors
}

// Reset 清零服务下所有 key 的用量计数，失败计数保留
func (l *Ledger) Reset(service string, now time.Time) int {
	n := 0
	for _, r := range l.records[service] {
		r.Usage = 0
		r.DailyUsage = 0
		r.MonthlyUsage = 0
		r.LastUsedDate = ""
		r.LastMonthlyReset = now
		n++
	}
	return n
}

// document 导出为持久化文档
func (l *Ledger) document() UsageDocument {
	doc := make(UsageDocument, len(l.records))
	for svc, bySvc := range l.records {
		m := make(map[string]UsageRecord, len(bySvc))
		for h, r := range bySvc {
			m[h] = *r
		}
		doc[svc] = m
	}
	return doc
}

// load 用持久化文档替换当前内容
func (l *Ledger) load(doc UsageDocument) {
	l.records = make(map[string]map[string]*UsageRecord, len(doc))
	for svc, bySvc := range doc {
		m := make(map[string]*UsageRecord, len(bySvc))
		for h, r := range bySvc {
			rec := r
			m[h] = &rec
		}
		l.records[svc] = m
	}
}
