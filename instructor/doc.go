// Copyright 2026 AgentFlow Authors
// Use of this source code is governed by the project license.

/*
包 instructor 是结构化补全引擎：把调用方描述的响应模型注入到 LLM 请求中，
抽取模型输出并校验，校验失败时携带错误明细重新提问，直到成功或重试预算耗尽。

# 概述

一次调用的流程为：请求构建（模式策略注入 + 提供商后处理）→ Provider
往返 → 模式抽取 → 响应模型校验 → 成功返回或纠错重试。流式调用则把每个
片段解码后送入 partial.Builder，逐步重建对象并在每次变化时重新校验。

# 核心接口

  - Mode / Strategy：封闭的模式集合（FUNCTIONS、TOOLS、JSON、MD_JSON、
    JSON_SCHEMA、THINKING_MD_JSON），StrategyFor 穷举分派。
  - CapabilityTable：按 (提供商, 模式, 模型) 记录支持情况，并以
    middleware.RequestRewriter 形式提供提供商后处理。
  - BuildRequest：纯函数，组合基础请求、模式注入与后处理。
  - Client：Create（校验重试）、CreateStream（增量对象）、
    Completion / Stream（透传）。
  - Recorder：指标上报接口，internal/metrics 提供 Prometheus 实现。

# 重试语义

请求次数不超过 MaxRetries+1。抽取失败与校验失败共用同一预算；
传输错误默认原样返回，开启 WithRetryAllErrors 后同样计入预算，
但 context 取消永不重试。预算耗尽返回 *RetryError。

# 流式语义

流式调用不做纠错重试。片段通过 streaming.Tee 复制给内容消费者与
usage 扫描者；流中没有 usage 时使用 tokenizer 估算并标记 UsageEstimated。
*/
package instructor
