// Package handler exposes the analyzer as an API Gateway proxy Lambda.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"statement-analyzer/internal/display"
	"statement-analyzer/internal/domain"
	"statement-analyzer/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerFileName      = "X-File-Name"
	defaultFileName     = "upload.xlsx"
)

type AnalyzeUseCase interface {
	Upload(ctx context.Context, in usecase.UploadInput) (*domain.Session, error)
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Summarize(ctx context.Context, sessionID string) (usecase.SummaryOutput, error)
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

type Handler struct {
	uc AnalyzeUseCase
}

type chatRequest struct {
	Question string `json:"question"`
}

type summaryResponse struct {
	Summary     string `json:"summary"`
	SummaryHTML string `json:"summaryHtml"`
	Failed      bool   `json:"failed"`
}

type chatResponse struct {
	Answer     string            `json:"answer"`
	AnswerHTML string            `json:"answerHtml"`
	Failed     bool              `json:"failed"`
	History    []display.Message `json:"history"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func NewHandler(uc AnalyzeUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc}, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := header(req.Headers, headerCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := slog.With("correlation_id", correlationID, "method", req.HTTPMethod, "path", req.Path)

	status, body := h.route(ctx, req)
	if e, ok := body.(errorResponse); ok {
		if status >= http.StatusInternalServerError {
			log.Error("request failed", "status", status, "code", e.Error, "reason", e.Message)
		} else {
			log.Warn("request rejected", "status", status, "code", e.Error, "reason", e.Message)
		}
	}
	return respond(status, body, correlationID), nil
}

func (h *Handler) route(ctx context.Context, req events.APIGatewayProxyRequest) (int, any) {
	segments := strings.Split(strings.Trim(req.Path, "/"), "/")
	if len(segments) == 0 || segments[0] != "sessions" || len(segments) > 3 {
		return http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Message: "route_not_found"}
	}

	switch {
	case len(segments) == 1:
		if req.HTTPMethod != http.MethodPost {
			return methodNotAllowed()
		}
		return h.upload(ctx, req)
	case len(segments) == 2:
		if req.HTTPMethod != http.MethodGet {
			return methodNotAllowed()
		}
		return h.get(ctx, segments[1])
	case segments[2] == "summary":
		if req.HTTPMethod != http.MethodPost {
			return methodNotAllowed()
		}
		return h.summarize(ctx, segments[1])
	case segments[2] == "chat":
		if req.HTTPMethod != http.MethodPost {
			return methodNotAllowed()
		}
		return h.chat(ctx, segments[1], req)
	}
	return http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Message: "route_not_found"}
}

func (h *Handler) upload(ctx context.Context, req events.APIGatewayProxyRequest) (int, any) {
	content, err := decodeBody(req)
	if err != nil {
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid_body_encoding"}
	}
	name := header(req.Headers, headerFileName)
	if name == "" {
		name = defaultFileName
	}

	session, err := h.uc.Upload(ctx, usecase.UploadInput{FileName: name, Content: content})
	if err != nil {
		return fromError(err)
	}
	return http.StatusCreated, display.NewSessionView(session)
}

func (h *Handler) get(ctx context.Context, sessionID string) (int, any) {
	session, err := h.uc.Get(ctx, sessionID)
	if err != nil {
		return fromError(err)
	}
	return http.StatusOK, display.NewSessionView(session)
}

func (h *Handler) summarize(ctx context.Context, sessionID string) (int, any) {
	out, err := h.uc.Summarize(ctx, sessionID)
	if err != nil {
		return fromError(err)
	}
	return http.StatusOK, summaryResponse{
		Summary:     out.Text,
		SummaryHTML: display.RenderText(out.Text),
		Failed:      out.Failed,
	}
}

func (h *Handler) chat(ctx context.Context, sessionID string, req events.APIGatewayProxyRequest) (int, any) {
	raw, err := decodeBody(req)
	if err != nil {
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid_body_encoding"}
	}
	var in chatRequest
	if err := json.Unmarshal(raw, &in); err != nil {
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid_json"}
	}

	out, err := h.uc.Chat(ctx, usecase.ChatInput{SessionID: sessionID, Question: in.Question})
	if err != nil {
		return fromError(err)
	}
	return http.StatusOK, chatResponse{
		Answer:     out.Answer,
		AnswerHTML: display.RenderText(out.Answer),
		Failed:     out.Failed,
		History:    display.Transcript(out.History),
	}
}

func fromError(err error) (int, any) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Message: err.Error()}
	}
	return statusFor(ue.Code), errorResponse{Error: string(ue.Code), Message: ue.Reason}
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed() (int, any) {
	return http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED"}
}

func decodeBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	b, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		return nil, fmt.Errorf("handler: decode base64 body: %w", err)
	}
	return b, nil
}

// header looks a name up case-insensitively; API Gateway passes client
// header casing through unchanged.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func respond(status int, body any, correlationID string) events.APIGatewayProxyResponse {
	headers := map[string]string{
		"Content-Type":      "application/json",
		headerCorrelationID: correlationID,
	}
	b, err := json.Marshal(body)
	if err != nil {
		slog.Error("marshal response", "err", err, "correlation_id", correlationID)
		status = http.StatusInternalServerError
		b = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: string(b)}
}
