package tokenizer

import (
	"strings"

	"github.com/BaSui01/instructflow/types"
)

// Tokenizer 是统一的 token 计数接口。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数,
	// 包括每条消息的开销（角色标记、分隔符等）。
	CountMessages(messages []Message) (int, error)

	// Name 返回分词器的名称.
	Name() string
}

// Message 是一个轻量级消息结构, 由 tokenizer 包使用
// 以避免与 llm 包的循环依赖。
type Message struct {
	Role    string
	Content string
}

// ForModel 为模型选择分词器：OpenAI 家族使用 tiktoken，其余使用估算器。
func ForModel(model string) Tokenizer {
	if _, ok := lookupEncoding(model); ok {
		return NewTiktokenTokenizer(model)
	}
	return NewEstimator(model)
}

// EstimateUsage 在上游未返回 usage 时估算一次补全的用量。
// tok 失败时退回估算器，因此总能得到结果。
func EstimateUsage(tok Tokenizer, prompt []Message, completion string) types.TokenUsage {
	promptTokens, err := tok.CountMessages(prompt)
	if err != nil {
		tok = NewEstimator("")
		promptTokens, _ = tok.CountMessages(prompt)
	}
	completionTokens, err := tok.CountTokens(completion)
	if err != nil {
		completionTokens, _ = NewEstimator("").CountTokens(completion)
	}
	return types.NewTokenUsage(promptTokens, completionTokens, 0)
}

func hasPrefix(model, prefix string) bool {
	return strings.HasPrefix(model, prefix)
}
