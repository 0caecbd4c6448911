package catalog

import (
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
)

// ToolParams converts the catalog entries into OpenAI tool definitions, in the
// catalog's stable order. The descriptor set is fixed at startup so the model
// sees an identical tool list on every cycle of a conversation.
func (c *Catalog) ToolParams() []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(c.descriptors))
	for _, d := range c.descriptors {
		tools = append(tools, toolParam(d))
	}
	return tools
}

func toolParam(d FunctionDescriptor) openai.ChatCompletionToolParam {
	properties := make(map[string]interface{}, len(d.Parameters))
	for name, p := range d.Parameters {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Pattern != "" {
			prop["pattern"] = p.Pattern
		}
		properties[name] = prop
	}

	params := shared.FunctionParameters{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(d.Required) > 0 {
		params["required"] = d.Required
	}

	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
			Parameters:  params,
		},
	}
}
