package credential

import "time"

// State 单个 key 的状态
type State string

const (
	StateAvailable State = "available"
	StateWaiting   State = "waiting"
	StateBlocked   State = "blocked"
)

// Acquire 结果标签
const (
	OutcomeOK        = "ok"
	OutcomeExhausted = "exhausted"
	OutcomeCanceled  = "canceled"
	OutcomeConfig    = "unconfigured"
)

// Observer 池的观测钩子，实现方需要并发安全
type Observer interface {
	ObserveAcquire(service, outcome string, d time.Duration)
	ObserveThrottle(service string, d time.Duration)
	ObserveTransition(service string, to State)
	ObservePersistError(op string)
	ObserveHealth(report HealthReport)
}

// NopObserver 空实现
type NopObserver struct{}

func (NopObserver) ObserveAcquire(string, string, time.Duration) {}
func (NopObserver) ObserveThrottle(string, time.Duration)        {}
func (NopObserver) ObserveTransition(string, State)              {}
func (NopObserver) ObservePersistError(string)                   {}
func (NopObserver) ObserveHealth(HealthReport)                   {}
