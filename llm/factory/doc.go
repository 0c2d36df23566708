// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 factory 根据配置创建 llm.Provider 实例。

# 概述

所有内置上游（openai、anthropic、groq、together、anyscale、gemini、deepseek）
都是共享 OpenAI 兼容传输层的预设，只填充 base URL、端点路径与默认模型。
其他名称按通用 OpenAI 兼容上游处理，必须显式配置 base_url。
base URL 同时决定引擎识别出的提供商能力。

# 核心接口

  - NewProviderFromConfig：按名称与 ProviderConfig 创建 Provider，可选传输层重试
  - NewRegistryFromConfig：一次性创建多个 Provider 并设置默认项
  - Registry：线程安全的命名 Provider 集合
*/
package factory
