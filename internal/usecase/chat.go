package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hackthon-glue/backend/internal/domain"
)

const (
	defaultMaxMessage       = 4000
	defaultKnowledgeResults = 5
	maxKnowledgeResults     = 25
)

// Bedrock accepts session ids of this shape.
var sessionIDPattern = regexp.MustCompile(`^[0-9a-zA-Z._:-]{2,100}$`)

type Agent interface {
	Invoke(ctx context.Context, sessionID, input string) (domain.AgentReply, error)
	RetrieveAndGenerate(ctx context.Context, query, countryCode string, maxResults int) (domain.KnowledgeAnswer, error)
	KnowledgeBaseConfigured() bool
}

type TranscriptStore interface {
	AppendTurns(ctx context.Context, sessionID string, turns ...domain.Turn) error
	History(ctx context.Context, sessionID string) ([]domain.Turn, error)
	Clear(ctx context.Context, sessionID string) error
}

// ChatService relays chat messages to the RAG agent and keeps per-session transcripts.
type ChatService struct {
	agent         Agent
	transcripts   TranscriptStore
	maxMessageLen int
}

type ChatInput struct {
	Message     string
	SessionID   string
	CountryCode string
}

type KnowledgeQuery struct {
	Query       string
	CountryCode string
	MaxResults  int
}

func NewChatService(agent Agent, transcripts TranscriptStore, maxMessageLen int) (*ChatService, error) {
	if agent == nil {
		return nil, errors.New("usecase: agent must not be nil")
	}
	if transcripts == nil {
		return nil, errors.New("usecase: transcript store must not be nil")
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessage
	}
	return &ChatService{
		agent:         agent,
		transcripts:   transcripts,
		maxMessageLen: maxMessageLen,
	}, nil
}

func (s *ChatService) Chat(ctx context.Context, in ChatInput) (domain.ChatReply, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return domain.ChatReply{}, newError(ErrorInvalidInput, "message_required", nil)
	}
	if utf8.RuneCountInString(message) > s.maxMessageLen {
		return domain.ChatReply{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}

	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = newUUID()
	} else if !sessionIDPattern.MatchString(sessionID) {
		return domain.ChatReply{}, newError(ErrorInvalidInput, "invalid_session_id", nil)
	}

	reply, err := s.agent.Invoke(ctx, sessionID, contextualize(message, in.CountryCode))
	if err != nil {
		return domain.ChatReply{}, upstreamError("agent_invoke_error", err)
	}
	response := strings.TrimSpace(reply.Text)

	// The answer is already produced; a transcript failure only costs history.
	if err := s.transcripts.AppendTurns(ctx, sessionID,
		domain.Turn{Role: domain.RoleUser, Content: message},
		domain.Turn{Role: domain.RoleAssistant, Content: response},
	); err != nil {
		slog.WarnContext(ctx, "failed to append chat transcript", "session_id", sessionID, "error", err)
	}

	citations := reply.Citations
	if citations == nil {
		citations = []domain.Citation{}
	}
	return domain.ChatReply{
		Response:     response,
		SessionID:    sessionID,
		Citations:    citations,
		HasKBResults: len(citations) > 0,
	}, nil
}

func (s *ChatService) History(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, newError(ErrorInvalidInput, "session_id_required", nil)
	}
	turns, err := s.transcripts.History(ctx, sessionID)
	if err != nil {
		return nil, newError(ErrorInternal, "transcript_read_error", err)
	}
	return turns, nil
}

func (s *ChatService) ClearSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return newError(ErrorInvalidInput, "session_id_required", nil)
	}
	if err := s.transcripts.Clear(ctx, sessionID); err != nil {
		return newError(ErrorInternal, "transcript_clear_error", err)
	}
	return nil
}

// QueryKnowledgeBase answers a query straight from the knowledge base, bypassing the agent.
func (s *ChatService) QueryKnowledgeBase(ctx context.Context, q KnowledgeQuery) (domain.KnowledgeAnswer, error) {
	query := strings.TrimSpace(q.Query)
	if query == "" {
		return domain.KnowledgeAnswer{}, newError(ErrorInvalidInput, "query_required", nil)
	}
	maxResults := q.MaxResults
	if maxResults == 0 {
		maxResults = defaultKnowledgeResults
	}
	if maxResults < 0 || maxResults > maxKnowledgeResults {
		return domain.KnowledgeAnswer{}, newError(ErrorInvalidInput, "invalid_max_results", nil)
	}
	if !s.agent.KnowledgeBaseConfigured() {
		return domain.KnowledgeAnswer{}, newError(ErrorInternal, "knowledge_base_not_configured", nil)
	}

	answer, err := s.agent.RetrieveAndGenerate(ctx, query, strings.TrimSpace(q.CountryCode), maxResults)
	if err != nil {
		return domain.KnowledgeAnswer{}, upstreamError("knowledge_base_error", err)
	}
	if answer.Citations == nil {
		answer.Citations = []domain.Citation{}
	}
	return answer, nil
}

func contextualize(message, countryCode string) string {
	countryCode = strings.TrimSpace(countryCode)
	if countryCode == "" {
		return message
	}
	return fmt.Sprintf("[Context: User is asking about %s]\n\n%s", countryCode, message)
}

var newUUID = func() string {
	return uuid.NewString()
}
