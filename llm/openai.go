package llm

import (
	"encoding/json"

	"github.com/openai/openai-go/v2"
	"github.com/tidwall/sjson"

	"github.com/m4xw311/egoist/errors"
	"github.com/m4xw311/egoist/session"
	"github.com/m4xw311/egoist/tools"
)

// buildPayload renders a streaming chat-completion request body. The SDK
// param types give the message and tool encoding; the fields the SDK sets
// per call rather than per body are patched in with sjson.
func buildPayload(model string, history []session.Message, ts []tools.Tool, toolChoice string) ([]byte, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: convertMessagesToOpenaiContent(history),
		Tools:    convertToolsToOpenAITools(ts),
	}

	data, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode request")
	}
	if data, err = sjson.SetBytes(data, "stream", true); err != nil {
		return nil, errors.Wrapf(err, "failed to set stream flag")
	}
	if toolChoice != "" && len(ts) > 0 {
		choice := map[string]any{
			"type":     "function",
			"function": map[string]string{"name": toolChoice},
		}
		if data, err = sjson.SetBytes(data, "tool_choice", choice); err != nil {
			return nil, errors.Wrapf(err, "failed to set tool choice")
		}
	}
	return data, nil
}

// convertMessagesToOpenaiContent converts our internal message format to OpenAI's.
func convertMessagesToOpenaiContent(messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	chatMessages := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			chatMessages = append(chatMessages, openai.SystemMessage(msg.Content))
		case session.RoleAssistant:
			if !msg.HasToolCalls() {
				chatMessages = append(chatMessages, openai.AssistantMessage(msg.Content))
				continue
			}
			assistantMessage := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistantMessage.Content.OfString = openai.String(msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				assistantMessage.ToolCalls = append(assistantMessage.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: tc.Arguments,
						},
					},
				})
			}
			chatMessages = append(chatMessages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistantMessage})
		case session.RoleTool:
			chatMessages = append(chatMessages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			chatMessages = append(chatMessages, openai.UserMessage(msg.Content))
		}
	}
	return chatMessages
}

// convertToolsToOpenAITools converts our Tool interface to the OpenAI Tool format.
func convertToolsToOpenAITools(ts []tools.Tool) []openai.ChatCompletionToolUnionParam {
	if len(ts) == 0 {
		return nil
	}
	openAITools := make([]openai.ChatCompletionToolUnionParam, 0, len(ts))
	for _, t := range ts {
		openAITools = append(openAITools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String(t.Description()),
			Parameters:  openai.FunctionParameters(t.Parameters()),
		}))
	}
	return openAITools
}
