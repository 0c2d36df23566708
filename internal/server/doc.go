// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供指标端点服务器的生命周期管理。

# 概述

Manager 封装 net/http.Server，在独立端口暴露 Prometheus /metrics
与 /healthz。CLI 在 metrics.enabled 时启动它，进程退出前优雅关闭。

# 主要能力

  - 非阻塞启动：Start 绑定监听后在后台 goroutine 中运行服务
  - 优雅关闭：Shutdown 幂等，调用方未设置截止时间时使用默认超时
  - 错误传播：Errors() 返回异步错误通道
  - 状态查询：Addr 返回实际监听地址（支持 ":0" 随机端口）
*/
package server
