package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/BaSui01/credpool/credential"
	"github.com/BaSui01/credpool/types"
)

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Service   string `json:"service,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	// 响应头已写出，编码失败也无法再改状态码
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError 写入错误响应，非 types.Error 按内部错误处理
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var e *types.Error
	if !errors.As(err, &e) {
		e = types.NewError("INTERNAL", err.Error())
	}
	status := mapErrorCodeToHTTPStatus(e.Code)

	if logger != nil && status >= http.StatusInternalServerError {
		logger.Error("diagnostics error",
			zap.String("code", string(e.Code)),
			zap.String("message", e.Message),
			zap.Int("status", status),
			zap.Error(e.Cause),
		)
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(e.Code),
			Message:   e.Message,
			Service:   e.Service,
			Retryable: e.Retryable,
		},
		Timestamp: time.Now(),
	})
}

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidArgument:
		return http.StatusNotFound
	case types.ErrUnknownCredential:
		return http.StatusBadRequest
	case types.ErrConfiguration:
		return http.StatusUnprocessableEntity
	case types.ErrExhausted, types.ErrQuotaExceeded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🏥 诊断 Handler
// =============================================================================

// PoolReader 诊断端点需要的只读视图，*credential.Pool 实现了它
type PoolReader interface {
	Health(service string) (credential.HealthReport, error)
	HealthAll() []credential.HealthReport
	Stats(service string) (credential.UsageStats, error)
}

// HealthCheck 依赖检查（Redis、数据库等）
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

type funcCheck struct {
	name string
	fn   func(ctx context.Context) error
}

func (c funcCheck) Name() string                    { return c.name }
func (c funcCheck) Check(ctx context.Context) error { return c.fn(ctx) }

// NewCheck 用 ping 函数构造 HealthCheck
func NewCheck(name string, ping func(ctx context.Context) error) HealthCheck {
	return funcCheck{name: name, fn: ping}
}

// HTTPRecorder 记录请求指标
type HTTPRecorder interface {
	RecordHTTPRequest(method, path string, status int, duration time.Duration)
}

// PoolStatus /health 的汇总结果
type PoolStatus struct {
	Status   string                    `json:"status"` // healthy / degraded / unhealthy
	Services []credential.HealthReport `json:"services"`
}

// CheckResult 单个依赖检查结果
type CheckResult struct {
	Status  string `json:"status"` // pass / fail
	Message string `json:"message,omitempty"`
	Latency string `json:"latency"`
}

// Handler 凭据池诊断端点
type Handler struct {
	pool    PoolReader
	logger  *zap.Logger
	version string

	mu     sync.RWMutex
	checks []HealthCheck
}

// NewHandler 创建诊断 Handler
func NewHandler(pool PoolReader, version string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pool:    pool,
		version: version,
		logger:  logger.With(zap.String("component", "diagnostics")),
	}
}

// RegisterCheck 注册依赖检查，/ready 会逐个执行
func (h *Handler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// Routes 挂载所有端点；metricsHandler 为 nil 时不暴露 /metrics
func (h *Handler) Routes(metricsHandler http.Handler, rec HTTPRecorder) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /ready", h.HandleReady)
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /health/{service}", h.HandleServiceHealth)
	mux.HandleFunc("GET /stats/{service}", h.HandleStats)
	mux.HandleFunc("GET /version", h.HandleVersion)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	if rec == nil {
		return mux
	}
	return instrument(mux, rec)
}

// HandleHealthz 存活探针
func (h *Handler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleHealth 所有服务的健康报告；没有任何可用 key 的服务会让整体不健康
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	reports := h.pool.HealthAll()
	status := PoolStatus{Status: overallStatus(reports), Services: reports}

	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

func overallStatus(reports []credential.HealthReport) string {
	healthy := 0
	for _, r := range reports {
		if r.Healthy() {
			healthy++
		}
	}
	switch {
	case len(reports) > 0 && healthy == len(reports):
		return "healthy"
	case healthy > 0:
		return "degraded"
	default:
		return "unhealthy"
	}
}

// HandleServiceHealth 单个服务的健康报告
func (h *Handler) HandleServiceHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.pool.Health(r.PathValue("service"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, report)
}

// HandleStats 单个服务的用量统计（只含 key 哈希）
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.pool.Stats(r.PathValue("service"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, stats)
}

// HandleReady 就绪探针，逐个执行依赖检查
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	ready := true
	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := CheckResult{Status: "pass", Latency: latency.String()}
		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			ready = false
			h.logger.Warn("readiness check failed",
				zap.String("check", check.Name()),
				zap.Error(err),
				zap.Duration("latency", latency),
			)
		}
		results[check.Name()] = result
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, map[string]any{"status": status, "checks": results})
}

// HandleVersion 版本信息
func (h *Handler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]string{"version": h.version})
}

// =============================================================================
// 📊 请求指标
// =============================================================================

// statusWriter 捕获状态码
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func instrument(mux *http.ServeMux, rec HTTPRecorder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		mux.ServeHTTP(sw, r)

		// 用路由模式做标签，避免服务名把基数撑大
		_, pattern := mux.Handler(r)
		if pattern == "" {
			pattern = "unmatched"
		}
		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		rec.RecordHTTPRequest(r.Method, pattern, sw.status, time.Since(start))
	})
}
