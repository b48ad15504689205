package credential

import (
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// =============================================================================
// 🔑 KeyStore：按服务加载凭据，进程生命周期内不可变
// =============================================================================

// LookupFunc 环境变量查询函数，签名与 os.LookupEnv 一致
type LookupFunc func(key string) (string, bool)

// Source 凭据来源
type Source interface {
	// Name 来源名称，仅用于日志
	Name() string
	// Keys 返回该服务在此来源中的原始密钥（按出现顺序）
	Keys(spec ServiceSpec) ([]string, error)
}

// EnvSource 读取编号变量 <PREFIX>_API_KEY_1..N，以及旧格式 <PREFIX>_API_KEY
type EnvSource struct {
	lookup LookupFunc
}

// NewEnvSource 创建编号环境变量来源
func NewEnvSource(lookup LookupFunc) *EnvSource {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &EnvSource{lookup: lookup}
}

func (s *EnvSource) Name() string { return "env" }

func (s *EnvSource) Keys(spec ServiceSpec) ([]string, error) {
	var keys []string
	// 编号允许有空洞，不在第一个缺失处停止
	for i := 1; i <= spec.maxNumbered(); i++ {
		if v, ok := s.lookup(spec.NumberedVar(i)); ok {
			keys = append(keys, v)
		}
	}
	if v, ok := s.lookup(spec.LegacyVar()); ok {
		keys = append(keys, v)
	}
	return keys, nil
}

// ListSource 读取逗号分隔的 <PREFIX>_KEYS_LIST
type ListSource struct {
	lookup LookupFunc
}

// NewListSource 创建列表变量来源
func NewListSource(lookup LookupFunc) *ListSource {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &ListSource{lookup: lookup}
}

func (s *ListSource) Name() string { return "list" }

func (s *ListSource) Keys(spec ServiceSpec) ([]string, error) {
	v, ok := s.lookup(spec.ListVar())
	if !ok {
		return nil, nil
	}
	return strings.Split(v, ","), nil
}

// SecureFileSource 读取 {"<service>": ["key1", ...]} 形式的 JSON 文件。
// 文件不存在视为空来源。
type SecureFileSource struct {
	path string
	doc  map[string][]string
	err  error
}

// NewSecureFileSource 创建安全文件来源，文件在构造时读取一次
func NewSecureFileSource(path string) *SecureFileSource {
	s := &SecureFileSource{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.err = fmt.Errorf("read secure keys file: %w", err)
		}
		return s
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		s.err = fmt.Errorf("parse secure keys file %s: %w", path, err)
	}
	return s
}

func (s *SecureFileSource) Name() string { return "secure_file" }

func (s *SecureFileSource) Keys(spec ServiceSpec) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.doc[spec.Name], nil
}

// KeyStore 保存每个服务的有序凭据列表
type KeyStore struct {
	specs map[string]ServiceSpec
	order []string
	keys  map[string][]Credential
	index map[string]map[string]int // service -> hash -> 位置
}

// KeyStoreOption KeyStore 选项
type KeyStoreOption func(*keyStoreOptions)

type keyStoreOptions struct {
	sources []Source
	lookup  LookupFunc
	secure  string
	logger  *zap.Logger
}

// WithSources 替换默认来源（按优先级顺序）
func WithSources(sources ...Source) KeyStoreOption {
	return func(o *keyStoreOptions) { o.sources = sources }
}

// WithLookupEnv 设置环境变量查询函数（测试用）
func WithLookupEnv(lookup LookupFunc) KeyStoreOption {
	return func(o *keyStoreOptions) { o.lookup = lookup }
}

// WithSecureFile 设置安全 JSON 文件路径
func WithSecureFile(path string) KeyStoreOption {
	return func(o *keyStoreOptions) { o.secure = path }
}

// WithKeyStoreLogger 设置日志
func WithKeyStoreLogger(logger *zap.Logger) KeyStoreOption {
	return func(o *keyStoreOptions) { o.logger = logger }
}

// LoadKeyStore 依次读取 编号变量 → 列表变量 → 安全文件，按值去重并保留首次出现顺序。
// 单个来源出错只记录告警，不影响其他来源。
func LoadKeyStore(specs []ServiceSpec, opts ...KeyStoreOption) (*KeyStore, error) {
	o := keyStoreOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.sources == nil {
		o.sources = []Source{NewEnvSource(o.lookup), NewListSource(o.lookup)}
		if o.secure != "" {
			o.sources = append(o.sources, NewSecureFileSource(o.secure))
		}
	}
	logger := o.logger.With(zap.String("component", "keystore"))

	ks := &KeyStore{
		specs: make(map[string]ServiceSpec, len(specs)),
		keys:  make(map[string][]Credential, len(specs)),
		index: make(map[string]map[string]int, len(specs)),
	}

	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := ks.specs[spec.Name]; dup {
			return nil, fmt.Errorf("service %s configured twice", spec.Name)
		}
		ks.specs[spec.Name] = spec
		ks.order = append(ks.order, spec.Name)

		seen := make(map[string]struct{})
		var creds []Credential
		idx := make(map[string]int)
		for _, src := range o.sources {
			raw, err := src.Keys(spec)
			if err != nil {
				logger.Warn("credential source failed",
					zap.String("service", spec.Name),
					zap.String("source", src.Name()),
					zap.Error(err))
				continue
			}
			for _, k := range raw {
				k = strings.TrimSpace(k)
				if k == "" || isPlaceholder(k) {
					continue
				}
				if _, ok := seen[k]; ok {
					continue
				}
				seen[k] = struct{}{}
				c := newCredential(spec.Name, k, len(creds))
				if _, clash := idx[c.hash]; clash {
					// 不同密钥同 hash 时无法区分计数，保留先出现的
					logger.Warn("credential hash collision, skipping key",
						zap.String("service", spec.Name),
						zap.String("key_hash", c.hash))
					continue
				}
				idx[c.hash] = len(creds)
				creds = append(creds, c)
			}
		}
		ks.keys[spec.Name] = creds
		ks.index[spec.Name] = idx

		logger.Info("credentials loaded",
			zap.String("service", spec.Name),
			zap.Int("count", len(creds)))
	}

	return ks, nil
}

// isPlaceholder 过滤 your_xxx_here 这类示例值
func isPlaceholder(v string) bool {
	lower := strings.ToLower(v)
	return strings.HasPrefix(lower, "your_") && strings.HasSuffix(lower, "_here")
}

// Load 返回服务的全部凭据；没有任何凭据时返回 ConfigurationError
func (s *KeyStore) Load(service string) ([]Credential, error) {
	spec, ok := s.specs[service]
	if !ok {
		return nil, newConfigurationError(service, ServiceSpec{Name: service}.NumberedVar(1))
	}
	creds := s.keys[service]
	if len(creds) == 0 {
		return nil, newConfigurationError(service, spec.NumberedVar(1))
	}
	out := make([]Credential, len(creds))
	copy(out, creds)
	return out, nil
}

// Credentials 返回服务的全部凭据，不存在时返回 nil
func (s *KeyStore) Credentials(service string) []Credential {
	creds := s.keys[service]
	out := make([]Credential, len(creds))
	copy(out, creds)
	return out
}

// Lookup 按 hash 查找已注册的凭据
func (s *KeyStore) Lookup(service, hash string) (Credential, bool) {
	i, ok := s.index[service][hash]
	if !ok {
		return Credential{}, false
	}
	return s.keys[service][i], true
}

// Spec 返回服务配置
func (s *KeyStore) Spec(service string) (ServiceSpec, bool) {
	spec, ok := s.specs[service]
	return spec, ok
}

// Services 返回按配置顺序排列的服务名
func (s *KeyStore) Services() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Size 返回服务的凭据数
func (s *KeyStore) Size(service string) int {
	return len(s.keys[service])
}

// Summary 每个服务的凭据数
func (s *KeyStore) Summary() map[string]int {
	out := make(map[string]int, len(s.order))
	for _, n := range s.order {
		out[n] = len(s.keys[n])
	}
	return out
}
