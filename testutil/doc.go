// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供测试共享的工具函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertEventuallyTrue
  - 通道工具: Drain 读取到关闭，SendChunksToChannel 构造流式输入

# 子包

  - testutil/mocks: 可编排的 MockProvider，按脚本依次返回响应、
    流式块或错误，并记录每次请求

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewMockProvider().WithContent(`{"name":"Jason"}`)
	client, err := instructor.New(provider, instructor.WithMode(instructor.ModeJSON))
*/
package testutil
