package instructor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/structured"
)

// Maybe is the decoded form of a MaybeSchema response.
type Maybe[T any] struct {
	Result  *T     `json:"result,omitempty"`
	Error   bool   `json:"error"`
	Message string `json:"message,omitempty"`
}

// MaybeSchema wraps schema so the model can report that no result was found
// instead of inventing one.
func MaybeSchema(schema *structured.JSONSchema) *structured.JSONSchema {
	if schema == nil {
		schema = structured.NewObjectSchema()
	}
	result := schema.Clone().
		WithDescription("Correctly extracted result, if any, from the provided context, otherwise undefined")
	return structured.NewObjectSchema().
		AddProperty("result", result, false).
		AddProperty("error", structured.NewBooleanSchema().WithDefault(false), false).
		AddProperty("message", structured.NewStringSchema().
			WithDescription("Error message if no result was found, should be short and concise, otherwise undefined"), false)
}

// MaybeDescriptor builds a response model around MaybeSchema(schema).
func MaybeDescriptor(name string, schema *structured.JSONSchema, opts ...structured.DescriptorOption) (*structured.Descriptor, error) {
	return structured.NewDescriptor("Maybe"+structured.SanitizeName(name), MaybeSchema(schema), opts...)
}

const validatorSystemPrompt = "You are a world class validation model. Capable to determine if the following value is valid for the statement, " +
	"if it is not, explain why and suggest a new value."

type verdict struct {
	IsValid bool   `json:"isValid"`
	Reason  string `json:"reason,omitempty"`
}

func verdictModel() (*structured.Descriptor, error) {
	schema := structured.NewObjectSchema().
		AddProperty("isValid", structured.NewBooleanSchema(), true).
		AddProperty("reason", structured.NewStringSchema(), false)
	return structured.NewDescriptor("Validator", schema)
}

// LLMValidator returns a rule that asks the model whether a value follows
// statement. A negative verdict fails the rule with the model's reason.
func LLMValidator(c *Client, model, statement string) structured.RuleFunc {
	return func(ctx context.Context, value any) error {
		desc, err := verdictModel()
		if err != nil {
			return err
		}
		res, err := c.Create(ctx, Request{
			Model:    model,
			Response: desc,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: validatorSystemPrompt},
				{Role: llm.RoleUser, Content: fmt.Sprintf("Does `%s` follow the rules: %s", valueText(value), statement)},
			},
		})
		if err != nil {
			return fmt.Errorf("llm validator: %w", err)
		}
		v, err := Decode[verdict](res)
		if err != nil {
			return err
		}
		if v.IsValid {
			return nil
		}
		if v.Reason == "" {
			return errors.New("value does not follow: " + statement)
		}
		return errors.New(v.Reason)
	}
}

func valueText(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(data)
}
