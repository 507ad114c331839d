package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"

	"github.com/hackthon-glue/backend/internal/domain"
)

const (
	defaultAliasID    = "TSTALIASID"
	countryFilterKey  = "country"
	maxKnowledgeLimit = 25
)

// runtimeAPI is the minimal Bedrock agent runtime interface required by Client.
// *bedrockagentruntime.Client satisfies this interface.
type runtimeAPI interface {
	InvokeAgent(ctx context.Context, in *bedrockagentruntime.InvokeAgentInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.InvokeAgentOutput, error)
	RetrieveAndGenerate(ctx context.Context, in *bedrockagentruntime.RetrieveAndGenerateInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateOutput, error)
}

// eventReader is the completion stream of one InvokeAgent call.
type eventReader interface {
	Events() <-chan types.ResponseStream
	Close() error
	Err() error
}

// Config identifies the agent and knowledge base to use.
type Config struct {
	AgentID         string
	AgentAliasID    string
	KnowledgeBaseID string
	ModelARN        string
}

// Client talks to a Bedrock RAG agent and its knowledge base.
type Client struct {
	api      runtimeAPI
	cfg      Config
	streamOf func(*bedrockagentruntime.InvokeAgentOutput) eventReader
}

func New(api runtimeAPI, cfg Config) (*Client, error) {
	if api == nil {
		return nil, errors.New("bedrock: api must not be nil")
	}
	cfg.AgentID = strings.TrimSpace(cfg.AgentID)
	if cfg.AgentID == "" {
		return nil, errors.New("bedrock: agent id must not be empty")
	}
	if strings.TrimSpace(cfg.AgentAliasID) == "" {
		cfg.AgentAliasID = defaultAliasID
	}
	return &Client{
		api: api,
		cfg: cfg,
		streamOf: func(out *bedrockagentruntime.InvokeAgentOutput) eventReader {
			if s := out.GetStream(); s != nil {
				return s
			}
			return nil
		},
	}, nil
}

// KnowledgeBaseConfigured reports whether direct knowledge-base queries are possible.
func (c *Client) KnowledgeBaseConfigured() bool {
	return c.cfg.KnowledgeBaseID != "" && c.cfg.ModelARN != ""
}

// Invoke sends input to the agent within sessionID and collects the streamed
// answer and its citations.
func (c *Client) Invoke(ctx context.Context, sessionID, input string) (domain.AgentReply, error) {
	out, err := c.api.InvokeAgent(ctx, &bedrockagentruntime.InvokeAgentInput{
		AgentId:      aws.String(c.cfg.AgentID),
		AgentAliasId: aws.String(c.cfg.AgentAliasID),
		SessionId:    aws.String(sessionID),
		InputText:    aws.String(input),
		EnableTrace:  aws.Bool(true),
	})
	if err != nil {
		return domain.AgentReply{}, fmt.Errorf("bedrock: InvokeAgent: %w", err)
	}

	stream := c.streamOf(out)
	if stream == nil {
		return domain.AgentReply{}, errors.New("bedrock: InvokeAgent: response has no stream")
	}
	defer func() { _ = stream.Close() }()

	var text strings.Builder
	citations := make([]domain.Citation, 0)
	traces := 0
	for event := range stream.Events() {
		switch e := event.(type) {
		case *types.ResponseStreamMemberChunk:
			text.Write(e.Value.Bytes)
			if e.Value.Attribution != nil {
				citations = append(citations, convertCitations(e.Value.Attribution.Citations)...)
			}
		case *types.ResponseStreamMemberTrace:
			traces++
		}
	}
	if err := stream.Err(); err != nil {
		return domain.AgentReply{}, fmt.Errorf("bedrock: InvokeAgent stream: %w", err)
	}
	slog.DebugContext(ctx, "agent invocation complete", "session_id", sessionID, "trace_events", traces, "citations", len(citations))

	return domain.AgentReply{Text: text.String(), Citations: citations}, nil
}

// RetrieveAndGenerate queries the knowledge base directly, without the agent.
func (c *Client) RetrieveAndGenerate(ctx context.Context, query, countryCode string, maxResults int) (domain.KnowledgeAnswer, error) {
	if !c.KnowledgeBaseConfigured() {
		return domain.KnowledgeAnswer{}, errors.New("bedrock: knowledge base is not configured")
	}
	if maxResults <= 0 || maxResults > maxKnowledgeLimit {
		return domain.KnowledgeAnswer{}, fmt.Errorf("bedrock: max results must be between 1 and %d", maxKnowledgeLimit)
	}

	search := &types.KnowledgeBaseVectorSearchConfiguration{
		NumberOfResults: aws.Int32(int32(maxResults)),
	}
	if countryCode != "" {
		search.Filter = &types.RetrievalFilterMemberEquals{
			Value: types.FilterAttribute{
				Key:   aws.String(countryFilterKey),
				Value: document.NewLazyDocument(countryCode),
			},
		}
	}

	out, err := c.api.RetrieveAndGenerate(ctx, &bedrockagentruntime.RetrieveAndGenerateInput{
		Input: &types.RetrieveAndGenerateInput{Text: aws.String(query)},
		RetrieveAndGenerateConfiguration: &types.RetrieveAndGenerateConfiguration{
			Type: types.RetrieveAndGenerateTypeKnowledgeBase,
			KnowledgeBaseConfiguration: &types.KnowledgeBaseRetrieveAndGenerateConfiguration{
				KnowledgeBaseId: aws.String(c.cfg.KnowledgeBaseID),
				ModelArn:        aws.String(c.cfg.ModelARN),
				RetrievalConfiguration: &types.KnowledgeBaseRetrievalConfiguration{
					VectorSearchConfiguration: search,
				},
			},
		},
	})
	if err != nil {
		return domain.KnowledgeAnswer{}, fmt.Errorf("bedrock: RetrieveAndGenerate: %w", err)
	}

	answer := domain.KnowledgeAnswer{Citations: convertCitations(out.Citations)}
	if out.Output != nil {
		answer.Response = aws.ToString(out.Output.Text)
	}
	return answer, nil
}

// convertCitations flattens every retrieved reference into one Citation.
func convertCitations(in []types.Citation) []domain.Citation {
	out := make([]domain.Citation, 0, len(in))
	for _, citation := range in {
		for _, ref := range citation.RetrievedReferences {
			c := domain.Citation{Metadata: convertMetadata(ref.Metadata)}
			if ref.Content != nil {
				c.Content = aws.ToString(ref.Content.Text)
			}
			if ref.Location != nil {
				c.Location.Type = string(ref.Location.Type)
				switch {
				case ref.Location.S3Location != nil:
					c.Location.URI = aws.ToString(ref.Location.S3Location.Uri)
				case ref.Location.WebLocation != nil:
					c.Location.URI = aws.ToString(ref.Location.WebLocation.Url)
				}
			}
			out = append(out, c)
		}
	}
	return out
}

// convertMetadata decodes citation metadata. Documents that cannot be decoded
// are dropped and logged.
func convertMetadata(in map[string]document.Interface) map[string]any {
	out := make(map[string]any, len(in))
	for k, doc := range in {
		if doc == nil {
			continue
		}
		v, err := decodeDocument(doc)
		if err != nil {
			slog.Warn("dropping undecodable citation metadata", "key", k, "error", err)
			continue
		}
		out[k] = v
	}
	return out
}

// decodeDocument prefers the document's own decoder, which handles documents
// read off the wire, and falls back to its JSON encoding for locally built ones.
func decodeDocument(doc document.Interface) (any, error) {
	var v any
	if err := doc.UnmarshalSmithyDocument(&v); err == nil {
		return v, nil
	}
	raw, err := doc.MarshalSmithyDocument()
	if err != nil {
		return nil, fmt.Errorf("bedrock: encode document: %w", err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("bedrock: decode document: %w", err)
	}
	return v, nil
}
