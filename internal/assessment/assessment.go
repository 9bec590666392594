// Package assessment runs the interview chatbot: a scripted system prompt,
// the replayed conversation and a final JSON verdict.
package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"rag-portal/internal/db"
	"rag-portal/internal/llmservice"
	"rag-portal/internal/models"
)

var (
	ErrInvalidGender = errors.New("invalid gender")
	ErrEmptyContent  = errors.New("chat content is empty")
)

const temperature = 0.5

type Gender string

const (
	Man   Gender = "man"
	Woman Gender = "woman"
)

func ParseGender(s string) (Gender, error) {
	switch g := Gender(strings.ToLower(strings.TrimSpace(s))); g {
	case Man, Woman:
		return g, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidGender, s)
	}
}

// Name is the label used in the interviewer prompt.
func (g Gender) Name() string {
	if g == Woman {
		return "女性"
	}
	return "男性"
}

// Prompt renders the interviewer system prompt.
func Prompt(g Gender) string {
	return fmt.Sprintf(models.AssessmentPromptTemplate, g.Name())
}

// History is the append-only conversation log.
type History interface {
	FindThread(ctx context.Context, userID int64, thread string) ([]db.ChatLog, error)
	Insert(ctx context.Context, log *db.ChatLog) error
	BulkInsert(ctx context.Context, logs []*db.ChatLog) error
}

type Service struct {
	logs  History
	model llms.Model
}

func NewService(logs History, model llms.Model) *Service {
	return &Service{logs: logs, model: model}
}

// Generate advances the conversation of userID in thread by one user turn and
// returns the whole conversation, newest assistant reply last.
//
// A fresh thread is seeded with the invisible system prompt and the start
// message; the first call answers that seed and ignores newChat.
func (s *Service) Generate(ctx context.Context, userID int64, thread, newChat string, gender Gender) ([]db.ChatLog, error) {
	history, err := s.logs.FindThread(ctx, userID, thread)
	if err != nil {
		return nil, err
	}

	if len(history) == 0 {
		seed := []*db.ChatLog{
			{UserID: userID, Thread: thread, Role: models.RoleSystem, Message: Prompt(gender), Invisible: true},
			{UserID: userID, Thread: thread, Role: models.RoleUser, Message: models.AssessmentStart},
		}
		if err := s.logs.BulkInsert(ctx, seed); err != nil {
			return nil, err
		}
		history = []db.ChatLog{*seed[0], *seed[1]}
	} else if len(history) > 2 {
		newChat = strings.TrimSpace(newChat)
		if newChat == "" {
			return nil, ErrEmptyContent
		}
		if history, err = s.append(ctx, history, userID, thread, models.RoleUser, newChat, false); err != nil {
			return nil, err
		}
	}

	history, reply, err := s.reply(ctx, history, userID, thread)
	if err != nil {
		return nil, err
	}

	if strings.Contains(reply, models.AssessmentFinished) {
		log.Info().Int64("user_id", userID).Str("thread", thread).Msg("Assessment finished, requesting verdict")
		if history, err = s.append(ctx, history, userID, thread, models.RoleUser, models.AssessmentJudgeRequest, true); err != nil {
			return nil, err
		}
		if history, _, err = s.reply(ctx, history, userID, thread); err != nil {
			return nil, err
		}
	}
	return history, nil
}

func (s *Service) reply(ctx context.Context, history []db.ChatLog, userID int64, thread string) ([]db.ChatLog, string, error) {
	text, err := llmservice.GenerateContent(ctx, s.model, llmservice.ToMessageContent(Turns(history)), temperature)
	if err != nil {
		return nil, "", err
	}
	history, err = s.append(ctx, history, userID, thread, models.RoleAssistant, text, false)
	if err != nil {
		return nil, "", err
	}
	return history, text, nil
}

func (s *Service) append(ctx context.Context, history []db.ChatLog, userID int64, thread, role, message string, invisible bool) ([]db.ChatLog, error) {
	row := &db.ChatLog{UserID: userID, Thread: thread, Role: role, Message: message, Invisible: invisible}
	if err := s.logs.Insert(ctx, row); err != nil {
		return nil, err
	}
	return append(history, *row), nil
}

// Turns converts stored rows into model turns, invisible rows included.
func Turns(logs []db.ChatLog) []models.Turn {
	turns := make([]models.Turn, len(logs))
	for i, l := range logs {
		turns[i] = models.Turn{Role: l.Role, Content: l.Message}
	}
	return turns
}

// Visible drops the rows hidden from the user.
func Visible(logs []db.ChatLog) []db.ChatLog {
	var out []db.ChatLog
	for _, l := range logs {
		if !l.Invisible {
			out = append(out, l)
		}
	}
	return out
}

type Judgement struct {
	Skill string `json:"skill"`
	Score int    `json:"score"`
	Judge string `json:"judge"`
}

var jsonObjectRe = regexp.MustCompile(`\{[^{}]*\}`)

// ParseJudgements extracts the verdict objects from the final reply.
func ParseJudgements(text string) []Judgement {
	var out []Judgement
	for _, m := range jsonObjectRe.FindAllString(text, -1) {
		var j Judgement
		if err := json.Unmarshal([]byte(m), &j); err != nil || j.Skill == "" {
			continue
		}
		out = append(out, j)
	}
	return out
}
