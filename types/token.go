package types

// TokenUsage 记录一次或多次往返消耗的 Token。零值表示上游未报告用量。
type TokenUsage struct {
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens,omitempty"`
	Cost             float64 `json:"cost,omitempty"`
}

// NewTokenUsage builds a usage record, deriving the total when the upstream
// left it out.
func NewTokenUsage(prompt, completion, total int) TokenUsage {
	if total == 0 {
		total = prompt + completion
	}
	return TokenUsage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total}
}

// Plus 返回两份用量之和，接收者不变
func (u TokenUsage) Plus(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		Cost:             u.Cost + other.Cost,
	}
}

// IsZero reports whether no tokens were recorded.
func (u TokenUsage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// OrNil returns nil for a zero record so optional metadata stays omitted.
func (u TokenUsage) OrNil() *TokenUsage {
	if u.IsZero() {
		return nil
	}
	return &u
}
