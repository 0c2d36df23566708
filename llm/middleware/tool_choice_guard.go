package middleware

import (
	"context"

	llmpkg "github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/types"
)

// ToolChoiceGuard 校验强制调用与可选工具列表是否一致
//   - Tools 为空时清除 ToolChoice，Functions 为空时清除 FunctionCall，
//     OpenAI 兼容接口对这种组合返回 400。
//   - 指名的 tool_choice / function_call 必须出现在对应列表中，
//     否则在发送前返回 ErrInvalidRequest。
type ToolChoiceGuard struct{}

// NewToolChoiceGuard 创建工具选择校验器
func NewToolChoiceGuard() *ToolChoiceGuard {
	return &ToolChoiceGuard{}
}

// Name 返回改写器名称
func (g *ToolChoiceGuard) Name() string {
	return "tool_choice_guard"
}

// Rewrite 执行校验与清理
func (g *ToolChoiceGuard) Rewrite(_ context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatRequest, error) {
	if req == nil {
		return nil, nil
	}

	if len(req.Tools) == 0 {
		req.Tools, req.ToolChoice = nil, ""
	} else if !choosable(req.ToolChoice, req.Tools, "auto", "none", "required") {
		return nil, types.Errorf(types.ErrInvalidRequest, "tool_choice %q names no declared tool", req.ToolChoice)
	}

	if len(req.Functions) == 0 {
		req.Functions, req.FunctionCall = nil, ""
	} else if !choosable(req.FunctionCall, req.Functions, "auto", "none") {
		return nil, types.Errorf(types.ErrInvalidRequest, "function_call %q names no declared function", req.FunctionCall)
	}

	return req, nil
}

// choosable 报告 choice 为空、保留字或列表中的某个名称
func choosable(choice string, schemas []llmpkg.ToolSchema, reserved ...string) bool {
	if choice == "" {
		return true
	}
	for _, r := range reserved {
		if choice == r {
			return true
		}
	}
	for _, s := range schemas {
		if s.Name == choice {
			return true
		}
	}
	return false
}
