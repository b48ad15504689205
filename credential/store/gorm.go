package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/credpool/credential"
)

// UsageRow credpool_usage 表
type UsageRow struct {
	Service          string `gorm:"primaryKey;size:64"`
	KeyHash          string `gorm:"primaryKey;size:16"`
	Usage            uint64
	DailyUsage       uint64
	MonthlyUsage     uint64
	LastUsedDate     string `gorm:"size:10"`
	LastMonthlyReset time.Time
	Errors           uint64
	LastErrorMessage string `gorm:"type:text"`
	LastErrorAt      *time.Time
}

func (UsageRow) TableName() string { return "credpool_usage" }

// WaitingRow credpool_waiting 表
type WaitingRow struct {
	Service   string `gorm:"primaryKey;size:64"`
	KeyHash   string `gorm:"primaryKey;size:16"`
	AddedAt   time.Time
	ReleaseAt time.Time `gorm:"index"`
	Reason    string    `gorm:"size:64"`
}

func (WaitingRow) TableName() string { return "credpool_waiting" }

// BlockedRow credpool_blocked 表
type BlockedRow struct {
	KeyHash string `gorm:"primaryKey;size:16"`
}

func (BlockedRow) TableName() string { return "credpool_blocked" }

// Transactor 执行事务，可替换为带重试的实现
type Transactor func(ctx context.Context, fn func(tx *gorm.DB) error) error

// GormStore 关系型数据库后端，Save 在一个事务内整体替换
type GormStore struct {
	db       *gorm.DB
	transact Transactor
}

var _ credential.Store = (*GormStore)(nil)

// GormOption GormStore 选项
type GormOption func(*GormStore)

// WithTransactor 替换事务执行方式
func WithTransactor(t Transactor) GormOption {
	return func(s *GormStore) { s.transact = t }
}

// NewGormStore 创建数据库后端并迁移表结构
func NewGormStore(ctx context.Context, db *gorm.DB, opts ...GormOption) (*GormStore, error) {
	if err := db.WithContext(ctx).AutoMigrate(&UsageRow{}, &WaitingRow{}, &BlockedRow{}); err != nil {
		return nil, fmt.Errorf("migrate credpool tables: %w", err)
	}
	s := &GormStore{db: db}
	s.transact = func(ctx context.Context, fn func(tx *gorm.DB) error) error {
		return s.db.WithContext(ctx).Transaction(fn)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *GormStore) Load(ctx context.Context) (*credential.Snapshot, error) {
	db := s.db.WithContext(ctx)
	snap := credential.NewSnapshot()

	var usage []UsageRow
	if err := db.Find(&usage).Error; err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}
	for _, r := range usage {
		bySvc, ok := snap.Usage[r.Service]
		if !ok {
			bySvc = make(map[string]credential.UsageRecord)
			snap.Usage[r.Service] = bySvc
		}
		rec := credential.UsageRecord{
			Usage:            r.Usage,
			DailyUsage:       r.DailyUsage,
			MonthlyUsage:     r.MonthlyUsage,
			LastUsedDate:     r.LastUsedDate,
			LastMonthlyReset: r.LastMonthlyReset,
			Errors:           r.Errors,
		}
		if r.LastErrorAt != nil {
			rec.LastError = &credential.LastError{Message: r.LastErrorMessage, Timestamp: *r.LastErrorAt}
		}
		bySvc[r.KeyHash] = rec
	}

	var waiting []WaitingRow
	if err := db.Find(&waiting).Error; err != nil {
		return nil, fmt.Errorf("load waiting list: %w", err)
	}
	for _, r := range waiting {
		snap.Status.WaitingList[r.Service+":"+r.KeyHash] = credential.WaitingEntry{
			Service:   r.Service,
			KeyHash:   r.KeyHash,
			AddedAt:   r.AddedAt,
			ReleaseAt: r.ReleaseAt,
			Reason:    r.Reason,
		}
	}

	var blocked []BlockedRow
	if err := db.Order("key_hash").Find(&blocked).Error; err != nil {
		return nil, fmt.Errorf("load blocked set: %w", err)
	}
	for _, r := range blocked {
		snap.Status.PermanentlyBlocked = append(snap.Status.PermanentlyBlocked, r.KeyHash)
	}
	return snap, nil
}

func (s *GormStore) Save(ctx context.Context, snap *credential.Snapshot) error {
	usage := make([]UsageRow, 0)
	for svc, bySvc := range snap.Usage {
		for hash, r := range bySvc {
			row := UsageRow{
				Service:          svc,
				KeyHash:          hash,
				Usage:            r.Usage,
				DailyUsage:       r.DailyUsage,
				MonthlyUsage:     r.MonthlyUsage,
				LastUsedDate:     r.LastUsedDate,
				LastMonthlyReset: r.LastMonthlyReset,
				Errors:           r.Errors,
			}
			if r.LastError != nil {
				ts := r.LastError.Timestamp
				row.LastErrorMessage = r.LastError.Message
				row.LastErrorAt = &ts
			}
			usage = append(usage, row)
		}
	}

	waiting := make([]WaitingRow, 0, len(snap.Status.WaitingList))
	for key, e := range snap.Status.WaitingList {
		hash := e.KeyHash
		if hash == "" {
			hash = key[strings.LastIndexByte(key, ':')+1:]
		}
		waiting = append(waiting, WaitingRow{
			Service:   e.Service,
			KeyHash:   hash,
			AddedAt:   e.AddedAt,
			ReleaseAt: e.ReleaseAt,
			Reason:    e.Reason,
		})
	}

	blocked := make([]BlockedRow, 0, len(snap.Status.PermanentlyBlocked))
	for _, h := range snap.Status.PermanentlyBlocked {
		blocked = append(blocked, BlockedRow{KeyHash: h})
	}

	return s.transact(ctx, func(tx *gorm.DB) error {
		for _, model := range []any{&UsageRow{}, &WaitingRow{}, &BlockedRow{}} {
			if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
				return fmt.Errorf("clear %T: %w", model, err)
			}
		}
		if len(usage) > 0 {
			if err := tx.CreateInBatches(usage, 200).Error; err != nil {
				return fmt.Errorf("write usage: %w", err)
			}
		}
		if len(waiting) > 0 {
			if err := tx.CreateInBatches(waiting, 200).Error; err != nil {
				return fmt.Errorf("write waiting list: %w", err)
			}
		}
		if len(blocked) > 0 {
			if err := tx.CreateInBatches(blocked, 200).Error; err != nil {
				return fmt.Errorf("write blocked set: %w", err)
			}
		}
		return nil
	})
}
