// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 middleware 提供 LLM 请求处理的中间件链与请求改写机制。

# 概述

Handler / Middleware 函数式组合用于包裹一次上游调用（日志、超时、
指标、panic 恢复）；RequestRewriter 改写器链在请求发送前做参数清理
与提供商适配，引擎的能力表把每个提供商的后处理表达为改写器。

# 核心接口

  - Handler：func(ctx, *ChatRequest) (*ChatResponse, error)。
  - Middleware：func(Handler) Handler。
  - Chain：不可变中间件链，Use 返回新链，Then 组合执行。
  - RequestRewriter / RewriterFunc：请求改写器及其函数适配。
  - RewriterChain：按顺序执行多个 RequestRewriter。
  - MetricsCollector：MetricsMiddleware 依赖的指标接口。

# 主要能力

  - LoggingMiddleware 基于 zap 记录模型、耗时与 Token 用量。
  - TimeoutMiddleware 为请求添加 context 超时。
  - MetricsMiddleware 上报请求耗时与用量。
  - RecoveryMiddleware 捕获 Provider panic 并转为 PanicError。
  - ToolChoiceGuard 清理空工具列表附带的 tool_choice / function_call，并拒绝指向未声明工具的强制调用。
*/
package middleware
