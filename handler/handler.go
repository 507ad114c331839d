package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/hackthon-glue/backend/internal/correlation"
	"github.com/hackthon-glue/backend/internal/domain"
	"github.com/hackthon-glue/backend/internal/usecase"
)

// stagePrefix is stripped when API Gateway forwards the full mount path.
const stagePrefix = "/api/insights"

const defaultTimeout = 10 * time.Second

type PanelUseCase interface {
	ListDiscussions(ctx context.Context, countryCode string, limit int) ([]domain.DiscussionSummary, error)
	GetDiscussion(ctx context.Context, discussionID string) (json.RawMessage, error)
	GetDiscussionDigest(ctx context.Context, discussionID string) (domain.DiscussionDigest, error)
	CountryHistory(ctx context.Context, countryCode string, limit int) (domain.CountryHistory, error)
}

type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (domain.ChatReply, error)
	History(ctx context.Context, sessionID string) ([]domain.Turn, error)
	ClearSession(ctx context.Context, sessionID string) error
	QueryKnowledgeBase(ctx context.Context, q usecase.KnowledgeQuery) (domain.KnowledgeAnswer, error)
}

type Handler struct {
	panel    PanelUseCase
	chat     ChatUseCase
	timeout  time.Duration
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	metrics  *requestMetrics
}

type Option func(*Handler)

// WithTimeout bounds each request's upstream work.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRegistry records request metrics in reg and serves it on GET /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(h *Handler) {
		if reg != nil {
			h.gatherer = reg
			h.metrics = newRequestMetrics(reg)
		}
	}
}

func NewHandler(panel PanelUseCase, chat ChatUseCase, opts ...Option) (*Handler, error) {
	if panel == nil {
		return nil, errors.New("handler: panel usecase must not be nil")
	}
	if chat == nil {
		return nil, errors.New("handler: chat usecase must not be nil")
	}
	h := &Handler{
		panel:   panel,
		chat:    chat,
		timeout: defaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type successResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

type listResponse struct {
	Discussions []domain.DiscussionSummary `json:"discussions"`
	Count       int                        `json:"count"`
	CountryCode *string                    `json:"country_code"`
	Degraded    bool                       `json:"degraded,omitempty"`
}

type historyResponse struct {
	domain.CountryHistory
	Degraded bool `json:"degraded,omitempty"`
}

type sessionHistoryResponse struct {
	SessionID string        `json:"session_id"`
	History   []domain.Turn `json:"history"`
}

type chatRequest struct {
	Message     string `json:"message"`
	SessionID   string `json:"session_id"`
	CountryCode string `json:"country_code"`
}

type knowledgeRequest struct {
	Query       string `json:"query"`
	CountryCode string `json:"country_code"`
	MaxResults  int    `json:"max_results"`
}

type route func(ctx context.Context, req events.APIGatewayProxyRequest) (int, any)

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := headerValue(req.Headers, correlation.Header)
	if correlationID == "" {
		correlationID = correlation.NewID()
	}
	ctx = correlation.WithID(ctx, correlationID)

	name, fn := h.match(req.HTTPMethod, req.Path)
	if name == "metrics" {
		resp := h.serveMetrics(ctx)
		resp.Headers[correlation.Header] = correlationID
		return resp, nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	status, body := fn(ctx, req)
	resp := h.respond(ctx, status, body)
	resp.Headers[correlation.Header] = correlationID

	h.metrics.observe(name, status, time.Since(start))
	h.logger.InfoContext(ctx, "request handled",
		"method", req.HTTPMethod,
		"path", req.Path,
		"route", name,
		"status", status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (h *Handler) match(method, rawPath string) (string, route) {
	p := strings.TrimPrefix(rawPath, stagePrefix)
	segs := strings.Split(strings.Trim(p, "/"), "/")

	switch {
	case method == http.MethodGet && len(segs) == 1 && segs[0] == "health":
		return "health", h.health
	case method == http.MethodGet && len(segs) == 1 && segs[0] == "metrics" && h.gatherer != nil:
		return "metrics", nil
	case method == http.MethodGet && len(segs) == 2 && segs[0] == "panel" && segs[1] == "discussions":
		return "list_discussions", h.listDiscussions
	case method == http.MethodGet && len(segs) == 3 && segs[0] == "panel" && segs[1] == "discussions":
		id := segs[2]
		return "get_discussion", func(ctx context.Context, _ events.APIGatewayProxyRequest) (int, any) {
			return h.getDiscussion(ctx, id)
		}
	case method == http.MethodGet && len(segs) == 4 && segs[0] == "panel" && segs[1] == "discussions" && segs[3] == "summary":
		id := segs[2]
		return "get_discussion_summary", func(ctx context.Context, _ events.APIGatewayProxyRequest) (int, any) {
			return h.getDiscussionDigest(ctx, id)
		}
	case method == http.MethodGet && len(segs) == 3 && segs[0] == "panel" && segs[1] == "history":
		country := segs[2]
		return "country_history", func(ctx context.Context, req events.APIGatewayProxyRequest) (int, any) {
			return h.countryHistory(ctx, req, country)
		}
	case method == http.MethodPost && len(segs) == 1 && segs[0] == "chat":
		return "chat", h.postChat
	case method == http.MethodGet && len(segs) == 2 && segs[0] == "chat" && segs[1] == "history":
		return "chat_history", h.chatHistory
	case method == http.MethodDelete && len(segs) == 2 && segs[0] == "chat" && segs[1] == "session":
		return "clear_session", h.clearSession
	case method == http.MethodPost && len(segs) == 2 && segs[0] == "kb" && segs[1] == "query":
		return "kb_query", h.queryKnowledgeBase
	}
	return "not_found", func(context.Context, events.APIGatewayProxyRequest) (int, any) {
		return http.StatusNotFound, errorResponse{Error: "route_not_found", Code: string(usecase.ErrorNotFound)}
	}
}

func (h *Handler) health(context.Context, events.APIGatewayProxyRequest) (int, any) {
	return http.StatusOK, successResponse{Success: true, Data: map[string]string{"status": "ok"}}
}

func (h *Handler) listDiscussions(ctx context.Context, req events.APIGatewayProxyRequest) (int, any) {
	limit, err := queryLimit(req.QueryStringParameters, usecase.DefaultListLimit)
	if err != nil {
		return h.fail(ctx, err)
	}
	var countryCode *string
	if cc := strings.TrimSpace(req.QueryStringParameters["country_code"]); cc != "" {
		countryCode = &cc
	}

	discussions, err := h.panel.ListDiscussions(ctx, deref(countryCode), limit)
	degraded := false
	if err != nil {
		if !degradable(err) {
			return h.fail(ctx, err)
		}
		h.logger.ErrorContext(ctx, "listing discussions failed, serving empty result", "error", err)
		discussions, degraded = []domain.DiscussionSummary{}, true
	}
	return http.StatusOK, successResponse{Success: true, Data: listResponse{
		Discussions: discussions,
		Count:       len(discussions),
		CountryCode: countryCode,
		Degraded:    degraded,
	}}
}

func (h *Handler) getDiscussion(ctx context.Context, id string) (int, any) {
	doc, err := h.panel.GetDiscussion(ctx, id)
	if err != nil {
		return h.fail(ctx, err)
	}
	return http.StatusOK, successResponse{Success: true, Data: doc}
}

func (h *Handler) getDiscussionDigest(ctx context.Context, id string) (int, any) {
	digest, err := h.panel.GetDiscussionDigest(ctx, id)
	if err != nil {
		return h.fail(ctx, err)
	}
	return http.StatusOK, successResponse{Success: true, Data: digest}
}

func (h *Handler) countryHistory(ctx context.Context, req events.APIGatewayProxyRequest, countryCode string) (int, any) {
	limit, err := queryLimit(req.QueryStringParameters, usecase.DefaultHistoryLimit)
	if err != nil {
		return h.fail(ctx, err)
	}

	history, err := h.panel.CountryHistory(ctx, countryCode, limit)
	degraded := false
	if err != nil {
		if !degradable(err) {
			return h.fail(ctx, err)
		}
		h.logger.ErrorContext(ctx, "country history failed, serving empty result", "country_code", countryCode, "error", err)
		history = domain.CountryHistory{CountryCode: countryCode, Discussions: []domain.DiscussionSummary{}}
		degraded = true
	}
	return http.StatusOK, successResponse{Success: true, Data: historyResponse{CountryHistory: history, Degraded: degraded}}
}

func (h *Handler) postChat(ctx context.Context, req events.APIGatewayProxyRequest) (int, any) {
	var in chatRequest
	if err := decodeBody(req, &in); err != nil {
		return h.fail(ctx, err)
	}
	reply, err := h.chat.Chat(ctx, usecase.ChatInput{
		Message:     in.Message,
		SessionID:   in.SessionID,
		CountryCode: in.CountryCode,
	})
	if err != nil {
		return h.fail(ctx, err)
	}
	return http.StatusOK, successResponse{Success: true, Data: reply}
}

func (h *Handler) chatHistory(ctx context.Context, req events.APIGatewayProxyRequest) (int, any) {
	sessionID := strings.TrimSpace(req.QueryStringParameters["session_id"])
	turns, err := h.chat.History(ctx, sessionID)
	if err != nil {
		return h.fail(ctx, err)
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	return http.StatusOK, successResponse{Success: true, Data: sessionHistoryResponse{SessionID: sessionID, History: turns}}
}

func (h *Handler) clearSession(ctx context.Context, req events.APIGatewayProxyRequest) (int, any) {
	if err := h.chat.ClearSession(ctx, req.QueryStringParameters["session_id"]); err != nil {
		return h.fail(ctx, err)
	}
	return http.StatusOK, messageResponse{Success: true, Message: "Session cleared"}
}

func (h *Handler) queryKnowledgeBase(ctx context.Context, req events.APIGatewayProxyRequest) (int, any) {
	var in knowledgeRequest
	if err := decodeBody(req, &in); err != nil {
		return h.fail(ctx, err)
	}
	answer, err := h.chat.QueryKnowledgeBase(ctx, usecase.KnowledgeQuery{
		Query:       in.Query,
		CountryCode: in.CountryCode,
		MaxResults:  in.MaxResults,
	})
	if err != nil {
		return h.fail(ctx, err)
	}
	return http.StatusOK, successResponse{Success: true, Data: answer}
}

func (h *Handler) fail(ctx context.Context, err error) (int, any) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		ucErr = &usecase.Error{Code: usecase.ErrorInternal, Reason: "unexpected_error", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		ucErr = &usecase.Error{Code: usecase.ErrorUpstream, Reason: "upstream_timeout", Err: err}
	}

	status := statusFor(ucErr.Code)
	message := ucErr.Reason
	switch {
	case status == http.StatusInternalServerError:
		h.logger.ErrorContext(ctx, "request failed", "code", ucErr.Code, "reason", ucErr.Reason, "error", ucErr.Err)
		message = "internal server error"
	case status >= http.StatusTooManyRequests:
		h.logger.WarnContext(ctx, "upstream failure", "code", ucErr.Code, "reason", ucErr.Reason, "error", ucErr.Err)
	}
	return status, errorResponse{Error: message, Code: string(ucErr.Code)}
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// degradable reports whether a listing failure should be served as an empty
// result instead of an error.
func degradable(err error) bool {
	switch usecase.CodeOf(err) {
	case usecase.ErrorUpstream, usecase.ErrorRateLimited:
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func (h *Handler) respond(ctx context.Context, status int, body any) events.APIGatewayProxyResponse {
	payload, err := json.Marshal(body)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to encode response", "error", err)
		status = http.StatusInternalServerError
		payload = []byte(`{"success":false,"error":"internal server error","code":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(payload),
	}
}

func (h *Handler) serveMetrics(ctx context.Context) events.APIGatewayProxyResponse {
	families, err := h.gatherer.Gather()
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to gather metrics", "error", err)
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, format)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			h.logger.ErrorContext(ctx, "failed to encode metrics", "error", err)
			return h.respond(ctx, http.StatusInternalServerError, errorResponse{Error: "internal server error", Code: string(usecase.ErrorInternal)})
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": string(format)},
		Body:       buf.String(),
	}
}

func queryLimit(params map[string]string, def int) (int, error) {
	raw := strings.TrimSpace(params["limit"])
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_limit", Err: err}
	}
	return n, nil
}

func decodeBody(req events.APIGatewayProxyRequest, dst any) error {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err}
		}
		body = decoded
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_json", Err: err}
	}
	return nil
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
