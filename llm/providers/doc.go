// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 是所有 OpenAI 兼容上游的公共基础层。openaicompat 子包负责
HTTP 传输，本包负责线上格式的请求/响应转换、错误映射与重试包装。

# 核心类型

  - BaseProviderConfig：所有 Provider 共享的基础配置（APIKey、BaseURL、Model、Timeout、限流）
  - OpenAICompat* 系列：OpenAI 兼容 API 的请求/响应/工具调用/response_format 结构体
  - RetryableProvider：带指数退避重试的 Provider 包装器，位于结构化引擎之下

# 核心函数

  - MapHTTPError：将 HTTP 状态码映射为语义化的 llm.Error（含 Retryable 标记）
  - NetworkError：连接与解码失败统一映射为可重试的上游错误
  - BuildRequest / MarshalRequest：构造请求体并合并 Extra 透传参数
  - ConvertToolChoice / ConvertFunctionCall / ConvertResponseFormat：强制调用与输出格式的线上表示
  - ToLLMChatResponse / ToLLMDelta：响应与流式增量转换
  - ChooseModel：按优先级选择模型（请求 > 默认 > 兜底）

# 支持能力

  - 统一错误语义映射（401/403/429/5xx/529 等）
  - legacy functions 与 tools 两种函数调用协议
  - json_object（含内联 schema）与 json_schema 两种 response_format
  - Bearer Token 标准认证 header 构建
*/
package providers
