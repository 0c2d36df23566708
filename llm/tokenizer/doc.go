// Package tokenizer 提供统一的 Token 计数接口，
// 支持 tiktoken 精确计数与 CJK 估算器，用于在流式响应缺少 usage 时估算用量。
package tokenizer
