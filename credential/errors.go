package credential

import (
	"fmt"
	"time"

	"github.com/BaSui01/credpool/types"
)

// newConfigurationError 服务没有任何凭据时返回，带上期望的环境变量名
func newConfigurationError(service, envVar string) *types.Error {
	return types.NewError(types.ErrConfiguration,
		fmt.Sprintf("no credentials configured, set %s", envVar)).
		WithService(service)
}

func newExhaustionError(service string, waiting, blocked int, cause error) *types.Error {
	e := types.NewError(types.ErrExhausted,
		fmt.Sprintf("no eligible credential (waiting=%d, blocked=%d)", waiting, blocked)).
		WithService(service).
		WithRetryable(true)
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}

func newUnknownCredentialError(cred Credential) *types.Error {
	return types.NewError(types.ErrUnknownCredential,
		fmt.Sprintf("credential %s is not registered", cred.Hash())).
		WithService(cred.Service())
}

func newPersistenceError(op string, cause error) *types.Error {
	return types.NewError(types.ErrPersistence, op+" flush failed").
		WithCause(cause).
		WithRetryable(true)
}

func newInvalidArgumentError(service, msg string) *types.Error {
	return types.NewError(types.ErrInvalidArgument, msg).WithService(service)
}

// IsConfigurationError 是否为配置缺失错误
func IsConfigurationError(err error) bool {
	return types.GetErrorCode(err) == types.ErrConfiguration
}

// IsExhaustionError 是否为无可用凭据错误
func IsExhaustionError(err error) bool {
	return types.GetErrorCode(err) == types.ErrExhausted
}

// IsUnknownCredentialError 是否为未注册凭据错误
func IsUnknownCredentialError(err error) bool {
	return types.GetErrorCode(err) == types.ErrUnknownCredential
}

// errQuotaExceeded 仅在池内部流转，触发挂起与重选，不会返回给调用方
var errQuotaExceeded = types.NewError(types.ErrQuotaExceeded, "quota exceeded")

// quotaSignal 携带被挂起 key 的释放时间
type quotaSignal struct {
	keyHash   string
	releaseAt time.Time
}

func (q quotaSignal) Error() string {
	return fmt.Sprintf("key %s over quota until %s", q.keyHash, q.releaseAt.Format(time.RFC3339))
}

func (q quotaSignal) Unwrap() error { return errQuotaExceeded }
