// Copyright 2026 AgentFlow Authors
// Use of this source code is governed by the project license.

/*
# 概述

包 structured 提供响应模型（response model）的描述、生成与校验能力。

一个 Descriptor 描述调用方期望的结构化输出：名称、说明、JSON Schema 形状
以及 Schema 无法表达的字段级规则。instructor 包用它生成各模式下的
请求指令，并用它校验模型输出。

# 核心接口

  - SchemaValidator：对 JSON 数据按 JSONSchema 进行字段级校验

# 主要类型

  - JSONSchema：JSON Schema 子集，支持 object/array/enum/组合关键词
  - Descriptor：不可变的响应模型描述，提供 Describe / Definition / Skeleton / Validate
  - Rule / RuleFunc：基于 gjson 路径的字段级规则
  - SchemaGenerator：通过反射从 Go 类型生成 JSONSchema，支持 jsonschema 标签
  - DefaultValidator：内置格式校验（email/uri/uuid/date-time/ipv4 等）
  - Outcome / ParseError / ValidationErrors：校验结果

# 典型用法

	type Invoice struct {
		Number string  `json:"number" jsonschema:"description=invoice number"`
		Total  float64 `json:"total" jsonschema:"minimum=0"`
	}

	d, _ := structured.DescriptorFor[Invoice]("invoice",
		structured.WithRule("total", "total must be rounded to cents", checkCents))
	outcome := d.Validate(ctx, payload)
	if !outcome.OK() { // outcome.Issues 描述了每个失败字段 }

# 主要能力

  - 名称规范化：非 [A-Za-z0-9_] 字符替换为下划线
  - 提示文本：Describe 按字段排序输出类型、说明与约束
  - 占位骨架：Skeleton 为流式部分对象提供初始形状
  - 两阶段校验：先 Schema，通过后再执行字段规则
*/
package structured
