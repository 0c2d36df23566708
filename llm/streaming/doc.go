// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 streaming 提供面向 LLM 流式输出场景的扇出原语。

# 概述

结构化流式补全需要同时消费同一条响应流：一路增量解析内容，
另一路扫描末尾的 usage 统计。本包提供 Tee，将单一上游通道复制给
多个独立游标，且不丢弃任何元素。

# 核心类型

  - Tee：只增缓冲 + 单一上游读取 goroutine，广播通道在每次追加时替换。
  - Cursor：独立读游标，Next(ctx) 阻塞直到有新元素、上游结束或 ctx 取消。

# 主要能力

  - 无损扇出：慢消费者只落后，不丢数据，也不阻塞其他消费者。
  - 取消传播：上游 ctx 取消后游标读完已缓冲元素再返回错误。
  - 可观测：Tee.Produced() 暴露上游写入计数。
*/
package streaming
