package line

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
	"github.com/rs/zerolog/log"

	"rag-portal/internal/db"
	"rag-portal/internal/llmservice"
	"rag-portal/internal/models"
	"rag-portal/internal/usecase"
)

// defaultAudioDuration is sent when the mp3 length cannot be read.
const defaultAudioDuration = time.Minute

// Message is one reply bubble.
type Message struct {
	Kind     usecase.Kind
	Text     string
	URL      string
	Duration time.Duration
}

type Replier interface {
	Reply(ctx context.Context, replyToken string, messages []Message) error
}

type ContentFetcher interface {
	Fetch(ctx context.Context, messageID string) (io.ReadCloser, error)
}

type Users interface {
	GetOrCreateByLineID(ctx context.Context, lineUserID string) (*db.User, error)
}

type ChatLogs interface {
	Insert(ctx context.Context, log *db.ChatLog) error
}

// MediaStore keeps downloaded audio below the media root.
type MediaStore interface {
	SaveAudio(r io.Reader, name string) (string, error)
	Resolve(path string) string
}

type Handler struct {
	secret       string
	users        Users
	logs         ChatLogs
	dispatcher   *usecase.Dispatcher
	media        MediaStore
	mediaBaseURL string
	mediaThread  string
	replier      Replier
	fetcher      ContentFetcher
}

type Options struct {
	ChannelSecret string
	Users         Users
	ChatLogs      ChatLogs
	Dispatcher    *usecase.Dispatcher
	Media         MediaStore
	MediaBaseURL  string
	// MediaThread receives voice message rows; it must be the thread the
	// Transcribe use case reads. Defaults to models.ThreadLineMedia.
	MediaThread string
	Replier     Replier
	Fetcher     ContentFetcher
}

func NewHandler(opts Options) *Handler {
	base := strings.TrimRight(opts.MediaBaseURL, "/")
	if base == "" {
		base = "/media"
	}
	thread := opts.MediaThread
	if thread == "" {
		thread = models.ThreadLineMedia
	}
	return &Handler{
		secret:       opts.ChannelSecret,
		users:        opts.Users,
		logs:         opts.ChatLogs,
		dispatcher:   opts.Dispatcher,
		media:        opts.Media,
		mediaBaseURL: base,
		mediaThread:  thread,
		replier:      opts.Replier,
		fetcher:      opts.Fetcher,
	}
}

// ServeHTTP verifies the signature and handles every message event. Event
// failures are replied to the user; the webhook itself still answers 200.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cb, err := webhook.ParseRequest(h.secret, r)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			log.Warn().Msg("Rejected LINE webhook with invalid signature")
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("Failed to parse LINE webhook")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	for _, event := range cb.Events {
		e, ok := event.(webhook.MessageEvent)
		if !ok {
			continue
		}
		source, ok := e.Source.(webhook.UserSource)
		if !ok {
			log.Debug().Msg("Ignoring message from non-user source")
			continue
		}
		h.handleMessage(r.Context(), e, source.UserId)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleMessage(ctx context.Context, e webhook.MessageEvent, lineUserID string) {
	logger := log.With().Str("line_user", lineUserID).Logger()

	user, err := h.users.GetOrCreateByLineID(ctx, lineUserID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to resolve LINE user")
		h.reply(ctx, e.ReplyToken, []Message{errorMessage(err)})
		return
	}

	var res *usecase.Result
	switch m := e.Message.(type) {
	case webhook.TextMessageContent:
		res, err = h.dispatcher.Dispatch(ctx, user, m.Text)
	case webhook.AudioMessageContent:
		res, err = h.handleAudio(ctx, user, m.Id)
	default:
		logger.Debug().Msg("Ignoring unsupported message type")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to handle LINE message")
		h.reply(ctx, e.ReplyToken, []Message{errorMessage(err)})
		return
	}
	h.reply(ctx, e.ReplyToken, []Message{h.toMessage(res)})
}

// handleAudio stores the voice message, transcribes it and answers the
// transcription through the chat use case.
func (h *Handler) handleAudio(ctx context.Context, user *db.User, messageID string) (*usecase.Result, error) {
	if h.dispatcher.Transcribe == nil || h.dispatcher.Chat == nil {
		return nil, &usecase.Error{Code: usecase.CodeInternalError, Reason: "voice messages are not configured"}
	}
	body, err := h.fetcher.Fetch(ctx, messageID)
	if err != nil {
		return nil, &usecase.Error{Code: usecase.CodeUpstreamError, Reason: "download audio", Err: err}
	}
	defer body.Close()

	rel, err := h.media.SaveAudio(body, messageID+".m4a")
	if err != nil {
		return nil, &usecase.Error{Code: usecase.CodeInternalError, Reason: "save audio", Err: err}
	}
	if err := h.logs.Insert(ctx, &db.ChatLog{
		UserID:   user.ID,
		Thread:   h.mediaThread,
		Role:     models.RoleUser,
		Message:  "",
		FilePath: db.StrPtr(rel),
	}); err != nil {
		return nil, &usecase.Error{Code: usecase.CodeInternalError, Reason: "save audio row", Err: err}
	}

	transcript, err := h.dispatcher.Transcribe.Execute(ctx, user, "")
	if err != nil {
		return nil, err
	}
	return h.dispatcher.Chat.Execute(ctx, user, transcript.Text)
}

func (h *Handler) toMessage(res *usecase.Result) Message {
	switch res.Kind {
	case usecase.KindImage:
		return Message{Kind: usecase.KindImage, Text: res.Text, URL: h.mediaURL(res.FilePath)}
	case usecase.KindAudio:
		d, err := llmservice.MP3Duration(h.media.Resolve(res.FilePath))
		if err != nil {
			log.Warn().Err(err).Str("path", res.FilePath).Msg("Could not read audio duration")
			d = defaultAudioDuration
		}
		return Message{Kind: usecase.KindAudio, Text: res.Text, URL: h.mediaURL(res.FilePath), Duration: d}
	default:
		return Message{Kind: usecase.KindText, Text: res.Text}
	}
}

func (h *Handler) mediaURL(rel string) string {
	return h.mediaBaseURL + "/" + strings.TrimLeft(filepath.ToSlash(rel), "/")
}

func (h *Handler) reply(ctx context.Context, token string, messages []Message) {
	if err := h.replier.Reply(ctx, token, messages); err != nil {
		log.Error().Err(err).Msg("Failed to reply to LINE")
	}
}

func errorMessage(err error) Message {
	var text string
	switch usecase.CodeOf(err) {
	case usecase.CodeInvalidInput:
		text = "入力内容を確認してください。"
	case usecase.CodeNotFound:
		text = "音声ファイルが見つかりませんでした。"
	default:
		text = fmt.Sprintf("エラーが発生しました (%s)", usecase.CodeOf(err))
	}
	return Message{Kind: usecase.KindText, Text: text}
}
