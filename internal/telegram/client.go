// Package telegram is a thin client for the Bot API methods this service
// uses. Delivery and retry behavior belong to the platform; callers treat
// every method as a best-effort remote call with a bounded timeout.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultAPIURL = "https://api.telegram.org"

const requestTimeout = 10 * time.Second

type Client struct {
	rc *resty.Client
}

// NewClient builds a client for the given bot token. apiURL overrides the
// public endpoint, which the tests use to point at a local fake.
func NewClient(token, apiURL string) *Client {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	rc := resty.New().
		SetBaseURL(apiURL+"/bot"+token).
		SetTimeout(requestTimeout)
	return &Client{rc: rc}
}

// apiResponse is the Bot API envelope: {"ok":true,"result":{...}}.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description,omitempty"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

// SendMessage delivers text to a chat and returns the platform message id.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard *InlineKeyboardMarkup) (int64, error) {
	body := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if keyboard != nil {
		body["reply_markup"] = keyboard
	}
	return c.sendReturningMessageID(ctx, "sendMessage", body)
}

// SendPhoto re-sends a photo by file id with a caption.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, fileID, caption string, keyboard *InlineKeyboardMarkup) (int64, error) {
	body := map[string]any{
		"chat_id": chatID,
		"photo":   fileID,
		"caption": caption,
	}
	if keyboard != nil {
		body["reply_markup"] = keyboard
	}
	return c.sendReturningMessageID(ctx, "sendPhoto", body)
}

// DeleteMessage removes a previously sent message from a chat.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	_, err := c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	})
	return err
}

// AnswerCallbackQuery acknowledges a button press, optionally with a toast or
// alert shown to the user.
func (c *Client) AnswerCallbackQuery(ctx context.Context, queryID, text string, showAlert bool) error {
	body := map[string]any{"callback_query_id": queryID}
	if text != "" {
		body["text"] = text
		body["show_alert"] = showAlert
	}
	_, err := c.call(ctx, "answerCallbackQuery", body)
	return err
}

func (c *Client) sendReturningMessageID(ctx context.Context, method string, body map[string]any) (int64, error) {
	result, err := c.call(ctx, method, body)
	if err != nil {
		return 0, err
	}
	var sent sentMessage
	if err := json.Unmarshal(result, &sent); err != nil {
		return 0, fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return sent.MessageID, nil
}

func (c *Client) call(ctx context.Context, method string, body map[string]any) (json.RawMessage, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/" + method)
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}

	var api apiResponse
	if err := json.Unmarshal(resp.Body(), &api); err != nil {
		return nil, fmt.Errorf("telegram %s: status %d: decode: %w", method, resp.StatusCode(), err)
	}
	if resp.StatusCode() != http.StatusOK || !api.OK {
		return nil, fmt.Errorf("telegram %s: status %d: %s", method, resp.StatusCode(), api.Description)
	}
	return api.Result, nil
}
