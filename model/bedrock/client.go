// Package bedrock adapts the AWS Bedrock Converse API to model.Client.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agentmesh/orchestrator/model"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client required
// by the adapter, matching *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client implements model.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
}

// New builds an adapter from an existing Bedrock runtime client.
func New(runtime RuntimeClient, defaultModel string) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{runtime: runtime, defaultModel: defaultModel}, nil
}

// Complete issues a single Bedrock Converse request.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	input, err := json.Marshal(req.Input)
	if err != nil {
		return model.Response{}, fmt.Errorf("bedrock: encode input: %w", err)
	}

	params := &bedrockruntime.ConverseInput{
		ModelId: aws.String(modelID),
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: string(input)}},
			},
		},
	}
	if req.Instructions != "" {
		params.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.Instructions}}
	}
	inferCfg := &brtypes.InferenceConfiguration{}
	hasInfer := false
	if req.MaxTokens > 0 {
		v := int32(req.MaxTokens)
		inferCfg.MaxTokens = &v
		hasInfer = true
	}
	if req.Temperature > 0 {
		v := float32(req.Temperature)
		inferCfg.Temperature = &v
		hasInfer = true
	}
	if hasInfer {
		params.InferenceConfig = inferCfg
	}

	out, err := c.runtime.Converse(ctx, params)
	if err != nil {
		return model.Response{}, fmt.Errorf("bedrock converse: %w", err)
	}

	msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return model.Response{}, errors.New("bedrock: unexpected converse output shape")
	}
	var text string
	for _, block := range msgOutput.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}

	var inTok, outTok int
	if out.Usage != nil {
		if out.Usage.InputTokens != nil {
			inTok = int(*out.Usage.InputTokens)
		}
		if out.Usage.OutputTokens != nil {
			outTok = int(*out.Usage.OutputTokens)
		}
	}

	return model.Response{
		Text:         text,
		InputTokens:  inTok,
		OutputTokens: outTok,
		Raw:          map[string]any{"stopReason": string(out.StopReason)},
	}, nil
}
