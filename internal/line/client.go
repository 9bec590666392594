package line

import (
	"context"
	"fmt"
	"io"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"rag-portal/internal/usecase"
)

// Client sends replies and downloads message content through the LINE SDK.
type Client struct {
	api  *messaging_api.MessagingApiAPI
	blob *messaging_api.MessagingApiBlobAPI
}

func NewClient(channelToken string) (*Client, error) {
	api, err := messaging_api.NewMessagingApiAPI(channelToken)
	if err != nil {
		return nil, fmt.Errorf("create messaging api: %w", err)
	}
	blob, err := messaging_api.NewMessagingApiBlobAPI(channelToken)
	if err != nil {
		return nil, fmt.Errorf("create blob api: %w", err)
	}
	return &Client{api: api, blob: blob}, nil
}

// Reply sends messages for replyToken. The SDK calls do not take a context.
func (c *Client) Reply(_ context.Context, replyToken string, messages []Message) error {
	_, err := c.api.ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   toSDKMessages(messages),
	})
	if err != nil {
		return fmt.Errorf("reply message: %w", err)
	}
	return nil
}

func (c *Client) Fetch(_ context.Context, messageID string) (io.ReadCloser, error) {
	resp, err := c.blob.GetMessageContent(messageID)
	if err != nil {
		return nil, fmt.Errorf("get message content %s: %w", messageID, err)
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, fmt.Errorf("get message content %s: status %d", messageID, resp.StatusCode)
	}
	return resp.Body, nil
}

func toSDKMessages(messages []Message) []messaging_api.MessageInterface {
	out := make([]messaging_api.MessageInterface, 0, len(messages))
	for _, m := range messages {
		switch m.Kind {
		case usecase.KindImage:
			out = append(out, messaging_api.ImageMessage{
				OriginalContentUrl: m.URL,
				PreviewImageUrl:    m.URL,
			})
		case usecase.KindAudio:
			out = append(out, messaging_api.AudioMessage{
				OriginalContentUrl: m.URL,
				Duration:           m.Duration.Milliseconds(),
			})
		default:
			out = append(out, messaging_api.TextMessage{Text: m.Text})
		}
	}
	return out
}
