package credential

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// 📋 服务与池配置
// =============================================================================

// QuotaWindow 配额统计窗口
type QuotaWindow string

const (
	WindowDaily   QuotaWindow = "daily"   // 按自然日，跨日清零
	WindowMonthly QuotaWindow = "monthly" // 按月，见 MonthlyResetMode
)

// MonthlyResetMode 月度计数的清零方式
type MonthlyResetMode string

const (
	MonthlyRolling  MonthlyResetMode = "rolling"  // 距上次清零满 MonthlyPeriod（默认 30 天）
	MonthlyCalendar MonthlyResetMode = "calendar" // 跨自然月
)

const (
	DefaultMaxNumbered      = 10
	DefaultFailureThreshold = 3
	DefaultMonthlyPeriod    = 30 * 24 * time.Hour
)

// QuotaSpec 单个服务的配额，Limit 为 0 表示不限
type QuotaSpec struct {
	Limit  uint64      `yaml:"limit" json:"limit"`
	Window QuotaWindow `yaml:"window" json:"window"`
}

// Enabled 是否配置了配额
func (q QuotaSpec) Enabled() bool { return q.Limit > 0 }

// ServiceSpec 单个服务的凭据来源与轮换策略
type ServiceSpec struct {
	// 服务名，如 elevenlabs、youtube、huggingface
	Name string `yaml:"name" json:"name"`
	// 环境变量前缀，默认为大写服务名（huggingface → HF）
	EnvPrefix string `yaml:"env_prefix" json:"env_prefix"`
	// 编号变量上限 <PREFIX>_API_KEY_1..N
	MaxNumbered int `yaml:"max_numbered" json:"max_numbered"`
	// 配额
	Quota QuotaSpec `yaml:"quota" json:"quota"`
	// 配额耗尽后的固定冷却时间；为 0 时等到窗口重置
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
	// 永久封禁阈值；为 0 时使用池默认值
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// 未达封禁阈值的失败是否临时挂起，为 0 表示不挂起
	FailureCooldown time.Duration `yaml:"failure_cooldown" json:"failure_cooldown"`
	// 同一服务两次取 key 的最小间隔（RateThrottle 使用）
	MinInterval time.Duration `yaml:"min_interval" json:"min_interval"`
}

func (s ServiceSpec) prefix() string {
	if s.EnvPrefix != "" {
		return strings.ToUpper(s.EnvPrefix)
	}
	return strings.ToUpper(strings.ReplaceAll(s.Name, "-", "_"))
}

func (s ServiceSpec) maxNumbered() int {
	if s.MaxNumbered > 0 {
		return s.MaxNumbered
	}
	return DefaultMaxNumbered
}

// NumberedVar 返回第 n 个编号变量名
func (s ServiceSpec) NumberedVar(n int) string {
	return fmt.Sprintf("%s_API_KEY_%d", s.prefix(), n)
}

// LegacyVar 返回不带编号的旧格式变量名
func (s ServiceSpec) LegacyVar() string {
	return s.prefix() + "_API_KEY"
}

// ListVar 返回逗号分隔列表变量名
func (s ServiceSpec) ListVar() string {
	return s.prefix() + "_KEYS_LIST"
}

// Validate 校验服务配置
func (s ServiceSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("service name is required")
	}
	if s.Quota.Enabled() && s.Quota.Window != WindowDaily && s.Quota.Window != WindowMonthly {
		return fmt.Errorf("service %s: unknown quota window %q", s.Name, s.Quota.Window)
	}
	if s.Cooldown < 0 || s.FailureCooldown < 0 || s.MinInterval < 0 {
		return fmt.Errorf("service %s: durations must not be negative", s.Name)
	}
	return nil
}

// JitterConfig 随机节奏配置
type JitterConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 最小延迟
	MinDelay time.Duration `yaml:"min_delay" env:"MIN_DELAY"`
	// 最大延迟
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// 额外放大的概率
	SpikeProbability float64 `yaml:"spike_probability" env:"SPIKE_PROBABILITY"`
	// 放大倍数区间
	SpikeMinFactor float64 `yaml:"spike_min_factor" env:"SPIKE_MIN_FACTOR"`
	SpikeMaxFactor float64 `yaml:"spike_max_factor" env:"SPIKE_MAX_FACTOR"`
}

// DefaultJitterConfig 返回默认节奏配置
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		Enabled:          true,
		MinDelay:         500 * time.Millisecond,
		MaxDelay:         2 * time.Second,
		SpikeProbability: 0.1,
		SpikeMinFactor:   1.5,
		SpikeMaxFactor:   2.0,
	}
}

// PoolConfig 凭据池配置
type PoolConfig struct {
	// 连续失败多少次后永久封禁
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// 月度清零方式: rolling, calendar
	MonthlyReset MonthlyResetMode `yaml:"monthly_reset" env:"MONTHLY_RESET"`
	// rolling 模式下的周期
	MonthlyPeriod time.Duration `yaml:"monthly_period" env:"MONTHLY_PERIOD"`
	// 节奏控制
	Throttle JitterConfig `yaml:"throttle" env:"THROTTLE"`
}

// DefaultPoolConfig 返回默认池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		FailureThreshold: DefaultFailureThreshold,
		MonthlyReset:     MonthlyRolling,
		MonthlyPeriod:    DefaultMonthlyPeriod,
		Throttle:         DefaultJitterConfig(),
	}
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.MonthlyReset == "" {
		c.MonthlyReset = MonthlyRolling
	}
	if c.MonthlyPeriod <= 0 {
		c.MonthlyPeriod = DefaultMonthlyPeriod
	}
	return c
}

// Validate 校验池配置
func (c PoolConfig) Validate() error {
	if c.MonthlyReset != "" && c.MonthlyReset != MonthlyRolling && c.MonthlyReset != MonthlyCalendar {
		return fmt.Errorf("unknown monthly reset mode %q", c.MonthlyReset)
	}
	if c.Throttle.Enabled {
		if c.Throttle.MinDelay < 0 || c.Throttle.MaxDelay < c.Throttle.MinDelay {
			return fmt.Errorf("throttle delay range is invalid: [%s, %s]", c.Throttle.MinDelay, c.Throttle.MaxDelay)
		}
		if c.Throttle.SpikeProbability < 0 || c.Throttle.SpikeProbability > 1 {
			return fmt.Errorf("throttle spike probability must be within [0, 1]")
		}
	}
	return nil
}

// DefaultServiceSpecs 返回内置的服务列表
func DefaultServiceSpecs() []ServiceSpec {
	return []ServiceSpec{
		{Name: "gemini", EnvPrefix: "GOOGLE", MaxNumbered: 10},
		{Name: "huggingface", EnvPrefix: "HF", MaxNumbered: 200},
		{
			Name:        "youtube",
			MaxNumbered: 10,
			Quota:       QuotaSpec{Limit: 10000, Window: WindowDaily},
		},
		{Name: "grok", MaxNumbered: 10},
		{Name: "groq", MaxNumbered: 10},
		{
			Name:        "elevenlabs",
			MaxNumbered: 10,
			Quota:       QuotaSpec{Limit: 10000, Window: WindowMonthly},
		},
	}
}
