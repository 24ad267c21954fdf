package usecase

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"statement-analyzer/internal/analysis"
	"statement-analyzer/internal/domain"
	"statement-analyzer/internal/spreadsheet"
)

const (
	defaultMaxQuestion = 500
	ratioWarning       = "Current assets or current liabilities row is missing, so the current ratio is not available."
)

// Generator is the hosted language model: prompt in, text out.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SessionStore keeps a session between requests.
type SessionStore interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	SaveSummary(ctx context.Context, sessionID, summary string) error
	AppendMessages(ctx context.Context, sessionID string, offset int, msgs ...domain.ChatMessage) error
}

type AnalyzeService struct {
	llm            Generator
	store          SessionStore
	cache          *analysis.Cache
	maxQuestionLen int
}

type UploadInput struct {
	FileName string
	Content  []byte
}

type SummaryOutput struct {
	Text string
	// Failed is true when Text carries a model error instead of a summary.
	Failed bool
}

type ChatInput struct {
	SessionID string
	Question  string
}

type ChatOutput struct {
	Answer  string
	Failed  bool
	History []domain.ChatMessage
}

func NewAnalyzeService(llm Generator, store SessionStore, cache *analysis.Cache, maxQuestionLen int) (*AnalyzeService, error) {
	if llm == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if cache == nil {
		cache = analysis.NewCache()
	}
	if maxQuestionLen <= 0 {
		maxQuestionLen = defaultMaxQuestion
	}
	return &AnalyzeService{
		llm:            llm,
		store:          store,
		cache:          cache,
		maxQuestionLen: maxQuestionLen,
	}, nil
}

// Upload parses and enriches a workbook and starts a new session for it.
func (s *AnalyzeService) Upload(ctx context.Context, in UploadInput) (*domain.Session, error) {
	if len(in.Content) == 0 {
		return nil, newError(ErrorInvalidInput, "empty_file", nil)
	}

	raw, err := spreadsheet.Read(bytes.NewReader(in.Content))
	if err != nil {
		if errors.Is(err, spreadsheet.ErrUnsupportedFormat) {
			return nil, newError(ErrorInvalidInput, "unsupported_format", err)
		}
		return nil, newError(ErrorInvalidInput, "unreadable_workbook", err)
	}

	table, err := s.cache.Enrich(raw)
	if err != nil {
		if errors.Is(err, analysis.ErrMissingAnchorRow) {
			return nil, newError(ErrorInvalidInput, "missing_total_assets", err)
		}
		return nil, newError(ErrorInternal, "enrichment_error", err)
	}

	session := &domain.Session{
		ID:        newUUID(),
		FileName:  strings.TrimSpace(in.FileName),
		Table:     table,
		CreatedAt: now().UTC(),
	}
	ratios, err := analysis.ExtractRatios(table)
	switch {
	case err == nil:
		session.Ratios = &ratios
	case errors.Is(err, analysis.ErrMissingRatioInputs):
		session.RatioWarning = ratioWarning
	default:
		return nil, newError(ErrorInternal, "ratio_error", err)
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, newError(ErrorInternal, "session_write_error", err)
	}
	return session, nil
}

// Get loads a session for display.
func (s *AnalyzeService) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, newError(ErrorNotFound, "session_not_found", err)
		}
		return nil, newError(ErrorInternal, "session_read_error", err)
	}
	return session, nil
}

// Summarize asks the model for an overall assessment of the session's data.
// A failed model call is reported in the output text, not as an error.
func (s *AnalyzeService) Summarize(ctx context.Context, sessionID string) (SummaryOutput, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return SummaryOutput{}, err
	}

	prompt := buildSummaryPrompt(FormatDataBlock(session.Table, session.Ratios))
	text, err := s.llm.Generate(ctx, prompt)
	if err != nil {
		return SummaryOutput{Text: serviceErrorText(err), Failed: true}, nil
	}

	if err := s.store.SaveSummary(ctx, session.ID, text); err != nil {
		return SummaryOutput{}, writeError(err)
	}
	return SummaryOutput{Text: text}, nil
}

// Chat answers one free-form question about the session's data. Both the
// question and the reply are appended to the history, also when the model
// call fails.
func (s *AnalyzeService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if utf8.RuneCountInString(question) > s.maxQuestionLen {
		return ChatOutput{}, newError(ErrorInvalidInput, "question_too_long", nil)
	}

	session, err := s.Get(ctx, in.SessionID)
	if err != nil {
		return ChatOutput{}, err
	}
	offset := len(session.History)

	out := ChatOutput{}
	prompt := buildChatPrompt(FormatDataBlock(session.Table, session.Ratios), question)
	answer, err := s.llm.Generate(ctx, prompt)
	if err != nil {
		answer = serviceErrorText(err)
		out.Failed = true
	}

	session.AppendMessage(domain.RoleUser, question)
	session.AppendMessage(domain.RoleAssistant, answer)
	if err := s.store.AppendMessages(ctx, session.ID, offset, session.History[offset:]...); err != nil {
		return ChatOutput{}, writeError(err)
	}

	out.Answer = answer
	out.History = session.History
	return out, nil
}

// writeError classifies a failed store write. The session may expire between
// loading it and writing to it.
func writeError(err error) *Error {
	if errors.Is(err, domain.ErrSessionNotFound) {
		return newError(ErrorNotFound, "session_not_found", err)
	}
	return newError(ErrorInternal, "session_write_error", err)
}

var newUUID = func() string {
	return uuid.NewString()
}

var now = time.Now
