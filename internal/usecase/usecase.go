// Package usecase exposes every assistant capability behind one interface so
// transports can route a message without knowing which service answers it.
package usecase

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"rag-portal/internal/assessment"
	"rag-portal/internal/db"
	"rag-portal/internal/models"
)

type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindAudio Kind = "audio"
)

// Result is the reply of a use case. FilePath is relative to the media root.
type Result struct {
	Text     string
	FilePath string
	Kind     Kind
}

type UseCase interface {
	Execute(ctx context.Context, user *db.User, content string) (*Result, error)
}

// ChatLogs is the subset of the chat log repository the use cases need.
type ChatLogs interface {
	assessment.History
	LatestAudio(ctx context.Context, userID int64, thread string) (*db.ChatLog, error)
}

// Media generates and reads media files.
type Media interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
	Speak(ctx context.Context, text string) (string, error)
	Transcribe(ctx context.Context, path string) (string, error)
}

// ChatUseCase continues the assessment interview.
type ChatUseCase struct {
	svc    *assessment.Service
	thread string
	gender assessment.Gender
}

func NewChatUseCase(svc *assessment.Service, thread string, gender assessment.Gender) *ChatUseCase {
	return &ChatUseCase{svc: svc, thread: thread, gender: gender}
}

func (u *ChatUseCase) Execute(ctx context.Context, user *db.User, content string) (*Result, error) {
	history, err := u.svc.Generate(ctx, user.ID, u.thread, content, u.gender)
	if err != nil {
		return nil, Classify("chat", err)
	}
	return &Result{Text: history[len(history)-1].Message, Kind: KindText}, nil
}

type ImageUseCase struct {
	media  Media
	logs   ChatLogs
	thread string
}

func NewImageUseCase(media Media, logs ChatLogs, thread string) *ImageUseCase {
	return &ImageUseCase{media: media, logs: logs, thread: thread}
}

func (u *ImageUseCase) Execute(ctx context.Context, user *db.User, content string) (*Result, error) {
	prompt := strings.TrimSpace(content)
	if prompt == "" {
		return nil, newError(CodeInvalidInput, "image prompt is empty", nil)
	}
	if err := u.logs.Insert(ctx, &db.ChatLog{UserID: user.ID, Thread: u.thread, Role: models.RoleUser, Message: prompt}); err != nil {
		return nil, newError(CodeInternalError, "save image prompt", err)
	}
	rel, err := u.media.GenerateImage(ctx, prompt)
	if err != nil {
		return nil, Classify("generate image", err)
	}
	if err := u.logs.Insert(ctx, &db.ChatLog{UserID: user.ID, Thread: u.thread, Role: models.RoleAssistant, Message: prompt, FilePath: db.StrPtr(rel)}); err != nil {
		return nil, newError(CodeInternalError, "save image", err)
	}
	return &Result{Text: prompt, FilePath: rel, Kind: KindImage}, nil
}

type TextToSpeechUseCase struct {
	media  Media
	logs   ChatLogs
	thread string
}

func NewTextToSpeechUseCase(media Media, logs ChatLogs, thread string) *TextToSpeechUseCase {
	return &TextToSpeechUseCase{media: media, logs: logs, thread: thread}
}

func (u *TextToSpeechUseCase) Execute(ctx context.Context, user *db.User, content string) (*Result, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return nil, newError(CodeInvalidInput, "speech text is empty", nil)
	}
	if err := u.logs.Insert(ctx, &db.ChatLog{UserID: user.ID, Thread: u.thread, Role: models.RoleUser, Message: text}); err != nil {
		return nil, newError(CodeInternalError, "save speech text", err)
	}
	rel, err := u.media.Speak(ctx, text)
	if err != nil {
		return nil, Classify("synthesize speech", err)
	}
	if err := u.logs.Insert(ctx, &db.ChatLog{UserID: user.ID, Thread: u.thread, Role: models.RoleAssistant, Message: text, FilePath: db.StrPtr(rel)}); err != nil {
		return nil, newError(CodeInternalError, "save speech", err)
	}
	return &Result{Text: text, FilePath: rel, Kind: KindAudio}, nil
}

// SpeechToTextUseCase transcribes the newest audio the user sent. It takes
// no content and stores nothing.
type SpeechToTextUseCase struct {
	media  Media
	logs   ChatLogs
	thread string
}

func NewSpeechToTextUseCase(media Media, logs ChatLogs, thread string) *SpeechToTextUseCase {
	return &SpeechToTextUseCase{media: media, logs: logs, thread: thread}
}

func (u *SpeechToTextUseCase) Execute(ctx context.Context, user *db.User, content string) (*Result, error) {
	if strings.TrimSpace(content) != "" {
		return nil, newError(CodeInvalidInput, "transcription takes no content", nil)
	}
	record, err := u.logs.LatestAudio(ctx, user.ID, u.thread)
	if err != nil {
		return nil, Classify("no audio file registered for the user", err)
	}
	text, err := u.media.Transcribe(ctx, record.File())
	if err != nil {
		return nil, Classify("transcribe", err)
	}
	return &Result{Text: text, FilePath: record.File(), Kind: KindText}, nil
}

// Command prefixes understood by Dispatcher.
const (
	PrefixImage      = "/image "
	PrefixSpeak      = "/speak "
	PrefixTranscribe = "/transcribe"
)

// Dispatcher routes a text message to a use case by its prefix; anything
// else goes to Chat.
type Dispatcher struct {
	Chat       UseCase
	Image      UseCase
	Speech     UseCase
	Transcribe UseCase
}

// Route picks the use case for text and strips the prefix.
func (d *Dispatcher) Route(text string) (UseCase, string) {
	trimmed := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(trimmed+" ", PrefixImage) && d.Image != nil:
		return d.Image, strings.TrimSpace(strings.TrimPrefix(trimmed, strings.TrimSpace(PrefixImage)))
	case strings.HasPrefix(trimmed+" ", PrefixSpeak) && d.Speech != nil:
		return d.Speech, strings.TrimSpace(strings.TrimPrefix(trimmed, strings.TrimSpace(PrefixSpeak)))
	case trimmed == PrefixTranscribe && d.Transcribe != nil:
		return d.Transcribe, ""
	default:
		return d.Chat, trimmed
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, user *db.User, text string) (*Result, error) {
	uc, content := d.Route(text)
	if uc == nil {
		return nil, newError(CodeInternalError, "no use case configured", nil)
	}
	log.Debug().Int64("user_id", user.ID).Str("use_case", name(uc)).Msg("Dispatching message")
	return uc.Execute(ctx, user, content)
}

func name(uc UseCase) string {
	switch uc.(type) {
	case *ChatUseCase:
		return "chat"
	case *ImageUseCase:
		return "image"
	case *TextToSpeechUseCase:
		return "speak"
	case *SpeechToTextUseCase:
		return "transcribe"
	default:
		return "custom"
	}
}
