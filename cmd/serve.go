package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"rag-portal/internal/assessment"
	"rag-portal/internal/config"
	"rag-portal/internal/db"
	"rag-portal/internal/did"
	"rag-portal/internal/estate"
	"rag-portal/internal/helper"
	"rag-portal/internal/line"
	"rag-portal/internal/llmservice"
	"rag-portal/internal/models"
	"rag-portal/internal/usecase"
	"rag-portal/internal/web"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web portal and the LINE webhook",
	Long: `Serves the QA, chat, LINE, avatar and real estate pages. Features whose
credentials are missing are reported as not configured.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	bdb, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer bdb.Close()

	srv, err := buildServer(ctx, cfg, bdb)
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}

// buildServer wires every feature the configuration enables.
func buildServer(ctx context.Context, c *config.Config, bdb *bun.DB) (*web.Server, error) {
	if err := helper.CreateFolder(c.Media.Root); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	users := db.NewUserRepository(bdb)
	chatLogs := db.NewChatLogRepository(bdb)

	opts := web.Options{
		Addr:         c.Server.Addr,
		ReadTimeout:  time.Duration(c.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(c.Server.WriteTimeoutSeconds) * time.Second,
		DefaultUser:  c.Web.DefaultUser,
		DocumentPath: c.RAG.DocumentPath,
		MediaRoot:    c.Media.Root,
		DIDSourceURL: c.DID.SourceURL,
		Users:        users,
		ChatLogs:     chatLogs,
	}

	if store, err := newStore(c, bdb); err != nil {
		log.Warn().Err(err).Msg("Retrieval QA disabled")
	} else if r, err := newRAG(ctx, c, store); err != nil {
		log.Warn().Err(err).Msg("Retrieval QA disabled")
	} else {
		opts.QA = r
	}

	dispatcher, err := newDispatcher(ctx, c, chatLogs)
	if err != nil {
		return nil, err
	}
	opts.Dispatcher = dispatcher

	if c.Line.ChannelSecret != "" && c.Line.ChannelToken != "" {
		client, err := line.NewClient(c.Line.ChannelToken)
		if err != nil {
			return nil, err
		}
		opts.LineWebhook = line.NewHandler(line.Options{
			ChannelSecret: c.Line.ChannelSecret,
			Users:         users,
			ChatLogs:      chatLogs,
			Dispatcher:    dispatcher,
			Media:         llmservice.NewMediaClient(c.OpenAI, c.Media.Root, nil),
			MediaBaseURL:  c.Media.BaseURL,
			MediaThread:   models.ThreadLineMedia,
			Replier:       client,
			Fetcher:       client,
		})
	} else {
		log.Info().Msg("LINE channel credentials missing, webhook disabled")
	}

	if c.DID.Key != "" {
		client, err := did.NewClient(c.DID.Key, did.WithBaseURL(c.DID.BaseURL))
		if err != nil {
			return nil, err
		}
		opts.Avatar = client
	}
	if c.Estate.URL != "" {
		client, err := estate.NewClient(c.Estate.URL, c.Estate.Key)
		if err != nil {
			return nil, err
		}
		opts.Estate = client
	}

	return web.NewServer(opts)
}

// newDispatcher routes LINE and web LINE-front messages. Without a chat
// model the assessment is left out and reported as not configured.
func newDispatcher(ctx context.Context, c *config.Config, chatLogs *db.ChatLogRepository) (*usecase.Dispatcher, error) {
	gender, err := assessment.ParseGender(c.Web.Gender)
	if err != nil {
		return nil, err
	}
	media := llmservice.NewMediaClient(c.OpenAI, c.Media.Root, nil)
	d := &usecase.Dispatcher{
		Image:      usecase.NewImageUseCase(media, chatLogs, models.ThreadLineMedia),
		Speech:     usecase.NewTextToSpeechUseCase(media, chatLogs, models.ThreadLineMedia),
		Transcribe: usecase.NewSpeechToTextUseCase(media, chatLogs, models.ThreadLineMedia),
	}
	model, err := llmservice.NewModel(ctx, &c.LLM)
	if err != nil {
		log.Warn().Err(err).Msg("Assessment chat disabled")
		return d, nil
	}
	d.Chat = usecase.NewChatUseCase(assessment.NewService(chatLogs, model), models.ThreadLine, gender)
	return d, nil
}
