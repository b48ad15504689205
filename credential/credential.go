package credential

import (
	"crypto/md5"
	"encoding/hex"

	json "github.com/goccy/go-json"
)

// Credential 一个服务的一把 API Key。
// 对外只暴露 key hash；原始 secret 仅通过 Secret() 交给调用方发起请求。
type Credential struct {
	service string
	hash    string
	secret  string
	index   int // KeyStore 中首次出现的顺序，用于平局裁决
}

// Service 返回所属服务名
func (c Credential) Service() string { return c.service }

// Hash 返回不可逆的 key 标识（MD5 前 8 位十六进制）
func (c Credential) Hash() string { return c.hash }

// Secret 返回原始密钥，仅用于构造上游请求，禁止写入日志
func (c Credential) Secret() string { return c.secret }

// IsZero 是否为空凭据
func (c Credential) IsZero() bool { return c.hash == "" }

func (c Credential) String() string {
	if c.IsZero() {
		return "Credential{}"
	}
	return "Credential{" + c.service + ":" + c.hash + ", secret:***}"
}

func (c Credential) MarshalJSON() ([]byte, error) {
	type masked struct {
		Service string `json:"service"`
		KeyHash string `json:"key_hash"`
		Secret  string `json:"secret,omitempty"`
	}
	out := masked{Service: c.service, KeyHash: c.hash}
	if c.secret != "" {
		out.Secret = "***"
	}
	return json.Marshal(out)
}

// HashKey 计算 key 的外部标识
func HashKey(secret string) string {
	sum := md5.Sum([]byte(secret))
	return hex.EncodeToString(sum[:])[:8]
}

func newCredential(service, secret string, index int) Credential {
	return Credential{
		service: service,
		hash:    HashKey(secret),
		secret:  secret,
		index:   index,
	}
}
