package store

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/credpool/credential"
)

// ErrStoreClosed AsyncStore 关闭后再写入
var ErrStoreClosed = errors.New("store is closed")

// AsyncStore 单写者后台落盘。Save 只记录最新快照并唤醒写协程，
// 连续多次 Save 会合并为一次写入。内存中的池状态始终是唯一事实来源。
type AsyncStore struct {
	inner  credential.Store
	logger *zap.Logger
	onErr  func(err error)

	writeMu sync.Mutex // 保证同一时刻只有一个写入

	mu      sync.Mutex
	pending *credential.Snapshot
	closed  bool
	lastErr error

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

var _ credential.Store = (*AsyncStore)(nil)

// AsyncOption AsyncStore 选项
type AsyncOption func(*AsyncStore)

// WithErrorHandler 后台写入失败时回调
func WithErrorHandler(fn func(err error)) AsyncOption {
	return func(s *AsyncStore) { s.onErr = fn }
}

// NewAsyncStore 包装 inner 并启动写协程
func NewAsyncStore(inner credential.Store, logger *zap.Logger, opts ...AsyncOption) *AsyncStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AsyncStore{
		inner:  inner,
		logger: logger.With(zap.String("component", "async_store")),
		onErr:  func(error) {},
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

func (s *AsyncStore) Load(ctx context.Context) (*credential.Snapshot, error) {
	return s.inner.Load(ctx)
}

// Save 不等待写入完成；返回的错误只表示存储已关闭
func (s *AsyncStore) Save(_ context.Context, snap *credential.Snapshot) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.pending = snap
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *AsyncStore) run() {
	defer close(s.done)
	for {
		select {
		case <-s.wake:
			s.flush(context.Background())
		case <-s.stop:
			s.flush(context.Background())
			return
		}
	}
}

// Flush 同步写出当前挂起的快照
func (s *AsyncStore) Flush(ctx context.Context) error {
	return s.flush(ctx)
}

func (s *AsyncStore) flush(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	snap := s.pending
	s.pending = nil
	s.mu.Unlock()
	if snap == nil {
		return nil
	}

	err := s.inner.Save(ctx, snap)
	s.mu.Lock()
	s.lastErr = err
	if err != nil && s.pending == nil {
		// 失败的快照放回去，下一次写入时重试
		s.pending = snap
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("background flush failed", zap.Error(err))
		s.onErr(err)
	}
	return err
}

// Close 停止接收写入，等待最后一次落盘；ctx 到期则放弃等待
func (s *AsyncStore) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
