package credential

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

// 配额边界：用满上限仍可用，超过上限才耗尽
func TestQuotaGuard_Property_Boundary(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("limit units is ok, limit+1 is exhausted", prop.ForAll(
		func(limit uint64, monthly bool) bool {
			window := WindowDaily
			if monthly {
				window = WindowMonthly
			}
			spec := ServiceSpec{Name: "svc", Quota: QuotaSpec{Limit: limit, Window: window}}
			ledger := newLedger(windowPolicy{mode: MonthlyRolling, period: DefaultMonthlyPeriod})
			guard := newQuotaGuard(ledger)
			c := newCredential("svc", "k", 0)
			now := day(2025, 6, 1, 12)

			ledger.AddUnits("svc", c.hash, limit, now)
			if guard.Check(spec, c, now) != QuotaOK {
				return false
			}
			ledger.AddUnits("svc", c.hash, 1, now)
			return guard.Check(spec, c, now) == QuotaExhausted
		},
		gen.UInt64Range(1, 20000),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestQuotaGuard_MonthlyLimitTen(t *testing.T) {
	spec := ServiceSpec{Name: "elevenlabs", Quota: QuotaSpec{Limit: 10, Window: WindowMonthly}}
	ledger := newLedger(windowPolicy{mode: MonthlyRolling, period: DefaultMonthlyPeriod})
	guard := newQuotaGuard(ledger)
	c := newCredential("elevenlabs", "k", 0)
	now := day(2025, 6, 1, 12)

	for range 10 {
		ledger.AddUnits("elevenlabs", c.hash, 1, now)
	}
	assert.Equal(t, QuotaOK, guard.Check(spec, c, now))
	rem, ok := guard.Remaining(spec, c, now)
	assert.True(t, ok)
	assert.Zero(t, rem)

	ledger.AddUnits("elevenlabs", c.hash, 1, now)
	assert.Equal(t, QuotaExhausted, guard.Check(spec, c, now))
}

func TestQuotaGuard_NoQuotaIsAlwaysOK(t *testing.T) {
	ledger := newLedger(windowPolicy{mode: MonthlyRolling, period: DefaultMonthlyPeriod})
	guard := newQuotaGuard(ledger)
	c := newCredential("grok", "k", 0)
	ledger.AddUnits("grok", c.hash, 1<<40, day(2025, 6, 1, 12))

	assert.Equal(t, QuotaOK, guard.Check(ServiceSpec{Name: "grok"}, c, day(2025, 6, 1, 12)))
	_, ok := guard.Remaining(ServiceSpec{Name: "grok"}, c, day(2025, 6, 1, 12))
	assert.False(t, ok)
}

func TestQuotaGuard_ReleaseAt(t *testing.T) {
	now := day(2025, 6, 1, 15)
	c := newCredential("svc", "k", 0)

	t.Run("daily waits until local midnight", func(t *testing.T) {
		guard := newQuotaGuard(newLedger(windowPolicy{mode: MonthlyRolling, period: DefaultMonthlyPeriod}))
		spec := ServiceSpec{Name: "svc", Quota: QuotaSpec{Limit: 1, Window: WindowDaily}}
		assert.Equal(t, day(2025, 6, 2, 0), guard.ReleaseAt(spec, c, now))
	})

	t.Run("rolling monthly waits for the period", func(t *testing.T) {
		ledger := newLedger(windowPolicy{mode: MonthlyRolling, period: DefaultMonthlyPeriod})
		start := day(2025, 5, 20, 8)
		ledger.AddUnits("svc", c.hash, 1, start)
		guard := newQuotaGuard(ledger)
		spec := ServiceSpec{Name: "svc", Quota: QuotaSpec{Limit: 1, Window: WindowMonthly}}
		assert.Equal(t, start.Add(30*24*time.Hour), guard.ReleaseAt(spec, c, now))
	})

	t.Run("calendar monthly waits for the next month", func(t *testing.T) {
		guard := newQuotaGuard(newLedger(windowPolicy{mode: MonthlyCalendar}))
		spec := ServiceSpec{Name: "svc", Quota: QuotaSpec{Limit: 1, Window: WindowMonthly}}
		assert.Equal(t, day(2025, 7, 1, 0), guard.ReleaseAt(spec, c, now))
	})

	t.Run("fixed cooldown wins", func(t *testing.T) {
		guard := newQuotaGuard(newLedger(windowPolicy{mode: MonthlyRolling, period: DefaultMonthlyPeriod}))
		spec := ServiceSpec{Name: "svc", Cooldown: time.Hour, Quota: QuotaSpec{Limit: 1, Window: WindowDaily}}
		assert.Equal(t, now.Add(time.Hour), guard.ReleaseAt(spec, c, now))
	})
}
