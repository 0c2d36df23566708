// Copyright 2026 AgentFlow Authors
// Use of this source code is governed by the project license.

/*
# 概述

包 partial 在流式补全中，从任意切分的文本片段增量重建 JSON 对象，
并把结果叠加到响应模型的占位骨架上。

# 主要类型

  - Parser：逐字节状态机，容忍未闭合字符串、缺失的右括号与截断的数字/字面量；
    输入一旦不可能再构成合法 JSON 即停止消费，保留最后的有效状态。
  - Builder：绑定一个 structured.Descriptor，每个片段产出一个 State
    （快照、ActivePath、CompletedPaths、IsValid、Issues）。
  - Merge：将部分值叠加到 Schema 骨架。

# 路径约定

路径使用 "a.b[0]" 形式，根不计入。ActivePath 是最近开始写入的值；
CompletedPaths 按完成顺序记录：字符串在右引号处、数字在分隔符处、
字面量完整匹配时、容器在右括号处完成，已完成路径不会再变化。
*/
package partial
