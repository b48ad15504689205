package credential

// =============================================================================
// 💰 配额单位成本
// =============================================================================

// CostTable 操作名 -> 消耗的配额单位，用于计算 ReportSuccess 的 units
type CostTable struct {
	costs       map[string]uint64
	defaultCost uint64
}

// NewCostTable 创建成本表，未登记的操作按 defaultCost 计
func NewCostTable(costs map[string]uint64, defaultCost uint64) *CostTable {
	m := make(map[string]uint64, len(costs))
	for k, v := range costs {
		m[k] = v
	}
	if defaultCost == 0 {
		defaultCost = 1
	}
	return &CostTable{costs: m, defaultCost: defaultCost}
}

// YouTubeCosts YouTube Data API v3 的单位成本
func YouTubeCosts() *CostTable {
	return NewCostTable(map[string]uint64{
		"channels.list":        1,
		"videos.list":          1,
		"playlistItems.list":   1,
		"playlists.list":       1,
		"comments.list":        1,
		"commentThreads.list":  1,
		"search.list":          100,
		"videos.insert":        1600,
		"playlists.insert":     50,
		"playlistItems.insert": 50,
		"videos.update":        50,
		"playlists.update":     50,
		"videos.delete":        50,
		"playlists.delete":     50,
	}, 1)
}

// Cost 单次操作的成本
func (t *CostTable) Cost(operation string) uint64 {
	if c, ok := t.costs[operation]; ok {
		return c
	}
	return t.defaultCost
}

// Total 一组操作（操作名 -> 次数）的总成本
func (t *CostTable) Total(ops map[string]uint64) uint64 {
	var sum uint64
	for op, n := range ops {
		sum += t.Cost(op) * n
	}
	return sum
}

// Budget 日配额的分配建议
type Budget struct {
	Limit             uint64 `json:"limit"`
	Reserve           uint64 `json:"reserve"`
	Available         uint64 `json:"available"`
	LightChannelCost  uint64 `json:"light_channel_cost"`
	MediumChannelCost uint64 `json:"medium_channel_cost"`
	HeavyChannelCost  uint64 `json:"heavy_channel_cost"`
	MaxLightChannels  uint64 `json:"max_light_channels"`
	MaxMediumChannels uint64 `json:"max_medium_channels"`
	MaxHeavyChannels  uint64 `json:"max_heavy_channels"`
	MaxSearchCalls    uint64 `json:"max_search_calls"`
}

// DailyBudget 预留 20%，其余按每频道 3/5/10 单位估算可处理的频道数；
// 搜索调用最多占用 30% 的配额
func (t *CostTable) DailyBudget(limit uint64) Budget {
	reserve := limit / 5
	available := limit - reserve
	b := Budget{
		Limit:             limit,
		Reserve:           reserve,
		Available:         available,
		LightChannelCost:  3,
		MediumChannelCost: 5,
		HeavyChannelCost:  10,
	}
	b.MaxLightChannels = available / b.LightChannelCost
	b.MaxMediumChannels = available / b.MediumChannelCost
	b.MaxHeavyChannels = available / b.HeavyChannelCost
	if search := t.Cost("search.list"); search > 0 {
		b.MaxSearchCalls = limit * 3 / 10 / search
	}
	return b
}
