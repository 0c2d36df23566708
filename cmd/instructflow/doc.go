// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 InstructFlow 命令行程序入口。

# 概述

cmd/instructflow 把结构化补全引擎包装为一次性命令：读取 YAML/JSON
格式的 JSON Schema 作为响应模型，向配置中的 Provider 发起请求，
校验失败时按纠正预算重试，最终把结果以 JSON 写到标准输出。

# 主要能力

  - 子命令：extract（结构化提取）、modes（支持矩阵）、version、help
  - extract 支持单次、流式（--stream，每行一个部分对象）与批量
    （--jsonl，errgroup 限流并发，输出顺序与输入一致）三种运行方式
  - 配置：默认值 → YAML → INSTRUCTFLOW_* 环境变量，命令行参数最后覆盖
  - 日志：按 log 配置构建 zap，输出到 stderr，不干扰 stdout 上的结果
  - 指标：metrics.enabled 时在独立端口暴露 /metrics（Prometheus）
  - 追踪：telemetry.enabled 时经 OTLP gRPC 导出 span
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
