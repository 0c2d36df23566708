// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 instructflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、structured、instructor
等上层模块提供统一的错误码与用量契约，以避免循环依赖。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 Retryable、Provider 标记与 Cause 链
  - TokenUsage：Token 用量统计，NewTokenUsage / Plus 累加多次往返，OrNil 省略零值

# 主要能力

  - 错误工具链：AsError / GetErrorCode / IsErrorCode / IsRetryable
  - Context 传播：WithTraceID / TraceID、WithAttempt / Attempt
*/
package types
