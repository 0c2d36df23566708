// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的结构化补全指标采集能力。

# 概述

Collector 实现 instructor.Recorder，把引擎的调用结果、往返次数、
失败类型与流式分片，以及每次 provider 往返的耗时与 token 用量
记录为 Prometheus 指标。指标注册在调用方注入的 Registerer 上，
按 namespace 隔离。

# 核心类型

  - Collector：指标收集器，持有 Counter 与 Histogram 向量指标。

# 指标

  - requests_total{provider,mode,status}：结构化补全调用数
  - attempts{provider,mode}：每次调用的往返次数
  - validation_failures_total{provider,mode,kind}：失败尝试数
  - stream_fragments_total{provider,mode}：流式部分结果数
  - llm_requests_total / llm_request_duration_seconds / llm_tokens_total / llm_cost_total：
    按 provider/model 分组的往返指标
*/
package metrics
