package credential

import "context"

// UsageDocument service -> key_hash -> 用量
type UsageDocument map[string]map[string]UsageRecord

// StatusDocument 等待列表与永久封禁集合
type StatusDocument struct {
	WaitingList        map[string]WaitingEntry `json:"waiting_list"`
	PermanentlyBlocked []string                `json:"permanently_blocked"`
}

// Snapshot 池的完整持久化状态
type Snapshot struct {
	Usage  UsageDocument  `json:"usage"`
	Status StatusDocument `json:"status"`
}

// NewSnapshot 返回空快照
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Usage: UsageDocument{},
		Status: StatusDocument{
			WaitingList:        map[string]WaitingEntry{},
			PermanentlyBlocked: []string{},
		},
	}
}

// Normalize 把 nil 字段补成空值
func (s *Snapshot) Normalize() *Snapshot {
	if s == nil {
		return NewSnapshot()
	}
	if s.Usage == nil {
		s.Usage = UsageDocument{}
	}
	if s.Status.WaitingList == nil {
		s.Status.WaitingList = map[string]WaitingEntry{}
	}
	if s.Status.PermanentlyBlocked == nil {
		s.Status.PermanentlyBlocked = []string{}
	}
	return s
}

// Store 快照的持久化后端。Load 在没有任何数据时返回空快照而不是错误。
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}
