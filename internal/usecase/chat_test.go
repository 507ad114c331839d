package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hackthon-glue/backend/internal/domain"
)

type stubAgent struct {
	reply      domain.AgentReply
	invokeErr  error
	answer     domain.KnowledgeAnswer
	ragErr     error
	kbEnabled  bool
	lastInput  string
	lastSess   string
	lastQuery  string
	lastCC     string
	lastMax    int
	invoked    int
	ragInvoked int
}

func (a *stubAgent) Invoke(_ context.Context, sessionID, input string) (domain.AgentReply, error) {
	a.invoked++
	a.lastSess = sessionID
	a.lastInput = input
	return a.reply, a.invokeErr
}

func (a *stubAgent) RetrieveAndGenerate(_ context.Context, query, countryCode string, maxResults int) (domain.KnowledgeAnswer, error) {
	a.ragInvoked++
	a.lastQuery, a.lastCC, a.lastMax = query, countryCode, maxResults
	return a.answer, a.ragErr
}

func (a *stubAgent) KnowledgeBaseConfigured() bool { return a.kbEnabled }

type stubTranscripts struct {
	turns     map[string][]domain.Turn
	appendErr error
	readErr   error
	clearErr  error
	cleared   []string
}

func newStubTranscripts() *stubTranscripts {
	return &stubTranscripts{turns: map[string][]domain.Turn{}}
}

func (s *stubTranscripts) AppendTurns(_ context.Context, sessionID string, turns ...domain.Turn) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.turns[sessionID] = append(s.turns[sessionID], turns...)
	return nil
}

func (s *stubTranscripts) History(_ context.Context, sessionID string) ([]domain.Turn, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return append([]domain.Turn{}, s.turns[sessionID]...), nil
}

func (s *stubTranscripts) Clear(_ context.Context, sessionID string) error {
	s.cleared = append(s.cleared, sessionID)
	if s.clearErr != nil {
		return s.clearErr
	}
	delete(s.turns, sessionID)
	return nil
}

type httpErr struct{ code int }

func (e httpErr) Error() string        { return "status error" }
func (e httpErr) HTTPStatusCode() int { return e.code }

func newChat(t *testing.T, agent *stubAgent, tr *stubTranscripts) *ChatService {
	t.Helper()
	svc, err := NewChatService(agent, tr, 0)
	require.NoError(t, err)
	return svc
}

func TestNewChatService_Validation(t *testing.T) {
	_, err := NewChatService(nil, newStubTranscripts(), 0)
	require.Error(t, err)
	_, err = NewChatService(&stubAgent{}, nil, 0)
	require.Error(t, err)
}

func TestChat_HappyPath(t *testing.T) {
	agent := &stubAgent{reply: domain.AgentReply{
		Text:      "  Japan feels upbeat.\n",
		Citations: []domain.Citation{{Content: "score 71"}},
	}}
	tr := newStubTranscripts()
	svc := newChat(t, agent, tr)

	reply, err := svc.Chat(context.Background(), ChatInput{Message: " How is Japan? ", SessionID: "sess-1", CountryCode: "JP"})
	require.NoError(t, err)
	require.Equal(t, domain.ChatReply{
		Response:     "Japan feels upbeat.",
		SessionID:    "sess-1",
		Citations:    []domain.Citation{{Content: "score 71"}},
		HasKBResults: true,
	}, reply)

	require.Equal(t, "sess-1", agent.lastSess)
	require.Equal(t, "[Context: User is asking about JP]\n\nHow is Japan?", agent.lastInput)
	require.Equal(t, []domain.Turn{
		{Role: domain.RoleUser, Content: "How is Japan?"},
		{Role: domain.RoleAssistant, Content: "Japan feels upbeat."},
	}, tr.turns["sess-1"])
}

func TestChat_GeneratesSessionID(t *testing.T) {
	orig := newUUID
	newUUID = func() string { return "generated-id" }
	t.Cleanup(func() { newUUID = orig })

	agent := &stubAgent{reply: domain.AgentReply{Text: "ok"}}
	svc := newChat(t, agent, newStubTranscripts())

	reply, err := svc.Chat(context.Background(), ChatInput{Message: "hi"})
	require.NoError(t, err)
	require.Equal(t, "generated-id", reply.SessionID)
	require.Equal(t, "hi", agent.lastInput)
	require.False(t, reply.HasKBResults)
	require.NotNil(t, reply.Citations)
}

func TestChat_InvalidInput(t *testing.T) {
	agent := &stubAgent{}
	svc := newChat(t, agent, newStubTranscripts())
	ctx := context.Background()

	_, err := svc.Chat(ctx, ChatInput{Message: "   "})
	requireCode(t, err, ErrorInvalidInput)
	_, err = svc.Chat(ctx, ChatInput{Message: strings.Repeat("x", defaultMaxMessage+1)})
	requireCode(t, err, ErrorInvalidInput)
	_, err = svc.Chat(ctx, ChatInput{Message: "hi", SessionID: "has space"})
	requireCode(t, err, ErrorInvalidInput)
	require.Zero(t, agent.invoked)
}

func TestChat_MessageLengthCountsCharacters(t *testing.T) {
	agent := &stubAgent{reply: domain.AgentReply{Text: "ok"}}
	svc, err := NewChatService(agent, newStubTranscripts(), 5)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.Chat(ctx, ChatInput{Message: "日本の気分", SessionID: "s1"})
	require.NoError(t, err)
	require.Equal(t, 1, agent.invoked)

	_, err = svc.Chat(ctx, ChatInput{Message: "日本の気分は", SessionID: "s1"})
	requireCode(t, err, ErrorInvalidInput)
	require.Equal(t, 1, agent.invoked)
}

func TestChat_AgentErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{name: "throttled", err: httpErr{code: 429}, code: ErrorRateLimited},
		{name: "server error", err: httpErr{code: 500}, code: ErrorUpstream},
		{name: "plain", err: errors.New("dial tcp"), code: ErrorUpstream},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := newStubTranscripts()
			svc := newChat(t, &stubAgent{invokeErr: tc.err}, tr)
			_, err := svc.Chat(context.Background(), ChatInput{Message: "hi", SessionID: "s1"})
			requireCode(t, err, tc.code)
			require.Empty(t, tr.turns)
		})
	}
}

func TestChat_TranscriptFailureStillAnswers(t *testing.T) {
	tr := newStubTranscripts()
	tr.appendErr = errors.New("dynamo down")
	svc := newChat(t, &stubAgent{reply: domain.AgentReply{Text: "answer"}}, tr)

	reply, err := svc.Chat(context.Background(), ChatInput{Message: "hi", SessionID: "s1"})
	require.NoError(t, err)
	require.Equal(t, "answer", reply.Response)
}

func TestHistory(t *testing.T) {
	tr := newStubTranscripts()
	tr.turns["s1"] = []domain.Turn{{Role: domain.RoleUser, Content: "q"}}
	svc := newChat(t, &stubAgent{}, tr)

	turns, err := svc.History(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, turns, 1)

	_, err = svc.History(context.Background(), "")
	requireCode(t, err, ErrorInvalidInput)

	tr.readErr = errors.New("boom")
	_, err = svc.History(context.Background(), "s1")
	requireCode(t, err, ErrorInternal)
}

func TestClearSession(t *testing.T) {
	tr := newStubTranscripts()
	tr.turns["s1"] = []domain.Turn{{Role: domain.RoleUser, Content: "q"}}
	svc := newChat(t, &stubAgent{}, tr)

	require.NoError(t, svc.ClearSession(context.Background(), "s1"))
	require.Equal(t, []string{"s1"}, tr.cleared)
	require.Empty(t, tr.turns)

	requireCode(t, svc.ClearSession(context.Background(), " "), ErrorInvalidInput)

	tr.clearErr = errors.New("boom")
	requireCode(t, svc.ClearSession(context.Background(), "s1"), ErrorInternal)
}

func TestQueryKnowledgeBase(t *testing.T) {
	agent := &stubAgent{kbEnabled: true, answer: domain.KnowledgeAnswer{Response: "Japan is up."}}
	svc := newChat(t, agent, newStubTranscripts())

	answer, err := svc.QueryKnowledgeBase(context.Background(), KnowledgeQuery{Query: " Compare JP and US ", CountryCode: "JP"})
	require.NoError(t, err)
	require.Equal(t, "Japan is up.", answer.Response)
	require.NotNil(t, answer.Citations)
	require.Equal(t, "Compare JP and US", agent.lastQuery)
	require.Equal(t, "JP", agent.lastCC)
	require.Equal(t, defaultKnowledgeResults, agent.lastMax)
}

func TestQueryKnowledgeBase_Validation(t *testing.T) {
	agent := &stubAgent{kbEnabled: true}
	svc := newChat(t, agent, newStubTranscripts())
	ctx := context.Background()

	_, err := svc.QueryKnowledgeBase(ctx, KnowledgeQuery{})
	requireCode(t, err, ErrorInvalidInput)
	_, err = svc.QueryKnowledgeBase(ctx, KnowledgeQuery{Query: "q", MaxResults: -1})
	requireCode(t, err, ErrorInvalidInput)
	_, err = svc.QueryKnowledgeBase(ctx, KnowledgeQuery{Query: "q", MaxResults: maxKnowledgeResults + 1})
	requireCode(t, err, ErrorInvalidInput)
	require.Zero(t, agent.ragInvoked)
}

func TestQueryKnowledgeBase_NotConfigured(t *testing.T) {
	svc := newChat(t, &stubAgent{}, newStubTranscripts())
	_, err := svc.QueryKnowledgeBase(context.Background(), KnowledgeQuery{Query: "q"})
	requireCode(t, err, ErrorInternal)
	require.ErrorContains(t, err, "knowledge_base_not_configured")
}

func TestQueryKnowledgeBase_UpstreamError(t *testing.T) {
	svc := newChat(t, &stubAgent{kbEnabled: true, ragErr: httpErr{code: 429}}, newStubTranscripts())
	_, err := svc.QueryKnowledgeBase(context.Background(), KnowledgeQuery{Query: "q"})
	requireCode(t, err, ErrorRateLimited)
}
