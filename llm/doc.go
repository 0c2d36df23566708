// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 定义结构化补全引擎与模型服务商之间的传输层契约。

# 概述

本包只包含数据模型与 [Provider] 接口。具体的 HTTP 传输位于
providers/openaicompat，按名称创建 Provider 的逻辑位于 factory。
上层的 instructor 包只通过 [Provider] 与模型交互，不关心上游细节。

# 核心接口

  - [Provider]：Completion / Stream / Name / BaseURL。BaseURL 用于识别提供商能力

# 核心类型

  - [ChatRequest] / [ChatResponse]：聊天请求与响应，[ChatRequest.Clone] 返回深拷贝
  - [Message]：对话消息，包含 legacy function_call 与 tool_calls 两种调用形态
  - [ToolSchema]：函数/工具定义，Parameters 为 JSON Schema
  - [ResponseFormat]：json_object 与 json_schema 输出约束
  - [StreamChunk]：流式输出分片，末尾分片可携带 usage
  - [Error]：传输层错误，携带错误码、HTTP 状态与可重试标记

# 子包

  - providers：OpenAI 兼容协议的转换、错误映射与重试包装
  - factory：内置上游预设与 Provider 注册表
  - middleware：请求改写链与 Provider 中间件
  - retry：指数退避策略，供传输层重试与纠正回合等待共用
  - streaming：流式分片的无损分流
  - tokenizer：流式响应缺少 usage 时的 token 估算
*/
package llm
