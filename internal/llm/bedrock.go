package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockClient is a client for the AWS Bedrock Converse API. It uses
// the standard AWS credential chain (env, shared config, IMDS).
type BedrockClient struct {
	runtime     *bedrockruntime.Client
	logger      *slog.Logger
	maxTokens   int32
	temperature float32
}

// converseAPI is the slice of the Bedrock runtime we use; it lets tests
// substitute a fake.
type converseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// NewBedrockClient creates a Bedrock client for the given region.
func NewBedrockClient(ctx context.Context, region string, logger *slog.Logger) (*BedrockClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &BedrockClient{
		runtime:   bedrockruntime.NewFromConfig(cfg),
		logger:    logger.With("provider", "bedrock"),
		maxTokens: defaultMaxTokens,
	}, nil
}

// SetMaxTokens overrides the completion length cap.
func (c *BedrockClient) SetMaxTokens(n int) {
	if n > 0 {
		c.maxTokens = int32(n)
	}
}

// SetTemperature sets the sampling temperature.
func (c *BedrockClient) SetTemperature(t float32) {
	c.temperature = t
}

// Chat sends a Converse request and returns the unified response.
func (c *BedrockClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	return c.converse(ctx, c.runtime, model, messages, tools)
}

// ChatStream satisfies the Client interface. The Converse call is
// non-streaming; when a callback is given, the final text is delivered
// as a single token event.
func (c *BedrockClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error) {
	resp, err := c.Chat(ctx, model, messages, tools)
	if err != nil {
		return nil, err
	}
	if callback != nil {
		if resp.Message.Content != "" {
			callback(StreamEvent{Kind: KindToken, Token: resp.Message.Content})
		}
		callback(StreamEvent{Kind: KindDone, Response: resp})
	}
	return resp, nil
}

// Ping verifies the gateway is reachable and credentials resolve, with
// a minimal one-token request.
func (c *BedrockClient) Ping(ctx context.Context) error {
	_, err := c.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String("anthropic.claude-3-5-sonnet-20241022-v2:0"),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "ping"}},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(1),
		},
	})
	if err != nil {
		return fmt.Errorf("bedrock ping: %w", err)
	}
	return nil
}

func (c *BedrockClient) converse(ctx context.Context, api converseAPI, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	bedrockMsgs, systemPrompt := convertToBedrock(messages)
	bedrockTools := convertToolsToBedrock(tools)

	c.logger.Debug("preparing request",
		"model", model,
		"messages", len(bedrockMsgs),
		"tools", len(bedrockTools),
		"system_len", len(systemPrompt),
	)

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: bedrockMsgs,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(c.maxTokens),
			Temperature: aws.Float32(c.temperature),
		},
	}
	if systemPrompt != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: systemPrompt},
		}
	}
	if len(bedrockTools) > 0 {
		input.ToolConfig = &types.ToolConfiguration{Tools: bedrockTools}
	}

	out, err := api.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse: %w", err)
	}

	resp, err := convertFromBedrock(model, out)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("response received",
		"model", resp.Model,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"tool_calls", len(resp.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", resp.Message.Content)

	return resp, nil
}

// convertToBedrock converts internal messages to Converse format.
// System messages are extracted into a separate system prompt.
func convertToBedrock(messages []Message) ([]types.Message, string) {
	var systemParts []string
	var result []types.Message
	lastRole := ""

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			systemParts = append(systemParts, msg.Content)

		case "assistant":
			var blocks []types.ContentBlock
			if msg.Content != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: msg.Content})
			}
			for i, tc := range msg.ToolCalls {
				args := tc.Function.Arguments
				if args == nil {
					args = map[string]any{}
				}
				id := tc.ID
				if id == "" {
					id = fmt.Sprintf("tooluse_%s_%d", tc.Function.Name, i)
				}
				blocks = append(blocks, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(id),
						Name:      aws.String(tc.Function.Name),
						Input:     document.NewLazyDocument(args),
					},
				})
			}
			if len(blocks) == 0 {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: ""})
			}
			result = append(result, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: blocks,
			})

		case "tool":
			// Tool results ride in a user-role message, per Converse.
			// Converse enforces strict user/assistant alternation, so
			// results for sibling calls share one user message.
			block := &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(msg.ToolCallID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: msg.Content},
					},
				},
			}
			if lastRole == "tool" && len(result) > 0 {
				result[len(result)-1].Content = append(result[len(result)-1].Content, block)
			} else {
				result = append(result, types.Message{
					Role:    types.ConversationRoleUser,
					Content: []types.ContentBlock{block},
				})
			}

		case "user":
			result = append(result, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: msg.Content}},
			})
		}
		if msg.Role != "system" {
			lastRole = msg.Role
		}
	}

	return result, strings.Join(systemParts, "\n\n")
}

// convertToolsToBedrock converts completion-API tool definitions to
// Converse tool specifications.
func convertToolsToBedrock(tools []map[string]any) []types.Tool {
	if len(tools) == 0 {
		return nil
	}

	var result []types.Tool
	for _, tool := range tools {
		fn, ok := tool["function"].(map[string]any)
		if !ok {
			continue
		}

		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)
		params := fn["parameters"]
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}

		spec := types.ToolSpecification{
			Name:        aws.String(name),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(params)},
		}
		if desc != "" {
			spec.Description = aws.String(desc)
		}

		result = append(result, &types.ToolMemberToolSpec{Value: spec})
	}
	return result
}

// convertFromBedrock converts a Converse response to our internal format.
func convertFromBedrock(model string, out *bedrockruntime.ConverseOutput) (*ChatResponse, error) {
	msgOut, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected converse output type %T", out.Output)
	}

	var content string
	var toolCalls []ToolCall

	for _, block := range msgOut.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			content += b.Value
		case *types.ContentBlockMemberToolUse:
			// Decode the input document through its JSON form. The
			// smithy document decoder rejects *map[string]interface{}
			// as a target even after filling it in, so UnmarshalSmithyDocument
			// is not usable here.
			args := map[string]any{}
			if b.Value.Input != nil {
				raw, err := b.Value.Input.MarshalSmithyDocument()
				if err != nil {
					return nil, fmt.Errorf("decode %s tool input: %w", aws.ToString(b.Value.Name), err)
				}
				if len(raw) > 0 {
					if err := json.Unmarshal(raw, &args); err != nil {
						return nil, fmt.Errorf("decode %s tool input: %w", aws.ToString(b.Value.Name), err)
					}
				}
			}
			toolCalls = append(toolCalls, NewToolCall(aws.ToString(b.Value.ToolUseId), aws.ToString(b.Value.Name), args))
		}
	}

	resp := &ChatResponse{
		Model: model,
		Message: Message{
			Role:      string(msgOut.Value.Role),
			Content:   content,
			ToolCalls: toolCalls,
		},
		Done:       true,
		StopReason: string(out.StopReason),
	}
	if out.Usage != nil {
		resp.InputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		resp.OutputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	return resp, nil
}
