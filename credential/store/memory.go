package store

import (
	"context"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/BaSui01/credpool/credential"
)

// MemoryStore 以编码后的字节保存快照，Load 每次返回独立副本
type MemoryStore struct {
	mu    sync.RWMutex
	data  []byte
	saves int
}

var _ credential.Store = (*MemoryStore)(nil)

// NewMemoryStore 创建内存后端
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (*credential.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := credential.NewSnapshot()
	if s.data == nil {
		return snap, nil
	}
	if err := json.Unmarshal(s.data, snap); err != nil {
		return nil, err
	}
	return snap.Normalize(), nil
}

func (s *MemoryStore) Save(ctx context.Context, snap *credential.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.saves++
	s.mu.Unlock()
	return nil
}

// Saves 返回成功写入次数
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
