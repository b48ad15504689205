/*
Package types 提供 credpool 各包共享的结构化错误。

# 核心类型

  - Error     结构化错误：Code、Message、Service、Retryable、Cause
  - ErrorCode 错误码，见 error.go 中的常量

# 用法

	if types.GetErrorCode(err) == types.ErrExhausted {
	    // 稍后重试
	}

errors.Is(err, types.NewError(code, "")) 按错误码匹配；
Cause 通过 Unwrap 暴露，可继续用 errors.Is 判断 context.DeadlineExceeded 等。
*/
package types
