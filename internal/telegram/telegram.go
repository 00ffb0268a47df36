// Package telegram wraps the Bot API behind the narrow transport contract
// the forms and workers use: send, edit, delete, answer.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Button is one inline-keyboard button; Data travels back in the
// callback payload.
type Button struct {
	Label string
	Data  string
}

// Options shapes an outbound message.
type Options struct {
	ParseMode      string // "Markdown" or "MarkdownV2"; empty for plain text
	ProtectContent bool
	ReplyTo        int64 // message id to thread under, 0 for none
	Keyboard       [][]Button
}

type Client struct {
	api *tgbotapi.BotAPI
}

func New(token string) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Client{api: api}, nil
}

// Self returns the bot's own username.
func (c *Client) Self() string {
	return c.api.Self.UserName
}

func markup(opts Options) *tgbotapi.InlineKeyboardMarkup {
	if len(opts.Keyboard) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(opts.Keyboard))
	for _, row := range opts.Keyboard {
		btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		rows = append(rows, btns)
	}
	m := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &m
}

// sendParams flattens Options into raw request parameters. The library's
// MessageConfig has no protect_content field, so the request is built by hand.
func sendParams(chatID int64, text string, opts Options) (tgbotapi.Params, error) {
	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", chatID)
	params["text"] = text
	params.AddNonEmpty("parse_mode", opts.ParseMode)
	params.AddBool("protect_content", opts.ProtectContent)
	params.AddNonZero("reply_to_message_id", int(opts.ReplyTo))
	if m := markup(opts); m != nil {
		if err := params.AddInterface("reply_markup", *m); err != nil {
			return nil, err
		}
	}
	return params, nil
}

func (c *Client) Send(ctx context.Context, chatID int64, text string, opts Options) (int64, error) {
	params, err := sendParams(chatID, text, opts)
	if err != nil {
		return 0, fmt.Errorf("telegram: send to %d: %w", chatID, err)
	}
	resp, err := c.api.MakeRequest("sendMessage", params)
	if err != nil {
		return 0, fmt.Errorf("telegram: send to %d: %w", chatID, err)
	}
	var sent tgbotapi.Message
	if err := json.Unmarshal(resp.Result, &sent); err != nil {
		return 0, fmt.Errorf("telegram: send to %d: %w", chatID, err)
	}
	return int64(sent.MessageID), nil
}

// Edit rewrites a rendered message. A no-op edit (unchanged text, message
// already deleted) is not an error for callers; it is swallowed here.
func (c *Client) Edit(ctx context.Context, chatID int64, messageID int64, text string, opts Options) error {
	msg := tgbotapi.NewEditMessageText(chatID, int(messageID), text)
	msg.ParseMode = opts.ParseMode
	msg.ReplyMarkup = markup(opts)
	if _, err := c.api.Send(msg); err != nil {
		if IsNoOpEdit(err) {
			return nil
		}
		return fmt.Errorf("telegram: edit %d/%d: %w", chatID, messageID, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, chatID int64, messageID int64) error {
	_, err := c.api.Request(tgbotapi.NewDeleteMessage(chatID, int(messageID)))
	if err != nil {
		return fmt.Errorf("telegram: delete %d/%d: %w", chatID, messageID, err)
	}
	return nil
}

// AnswerCallback acknowledges a button press so the client stops its spinner.
func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	_, err := c.api.Request(tgbotapi.NewCallback(callbackID, ""))
	return err
}

// IsNoOpEdit matches the Bad Request the API returns for edits that change
// nothing or target a gone message.
func IsNoOpEdit(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusBadRequest
	}
	return strings.Contains(err.Error(), "message is not modified")
}

// Updates starts receiving updates, via webhook when webhookURL is set and
// long polling otherwise. The returned channel closes on shutdown.
func (c *Client) Updates(ctx context.Context, webhookURL, listenAddr string) (tgbotapi.UpdatesChannel, error) {
	if webhookURL == "" {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		ch := c.api.GetUpdatesChan(u)
		go func() {
			<-ctx.Done()
			c.api.StopReceivingUpdates()
		}()
		return ch, nil
	}

	wh, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return nil, fmt.Errorf("telegram: webhook config: %w", err)
	}
	if _, err := c.api.Request(wh); err != nil {
		return nil, fmt.Errorf("telegram: set webhook: %w", err)
	}

	ch := c.api.ListenForWebhook("/")
	srv := &http.Server{Addr: listenAddr}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("telegram: webhook server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	return ch, nil
}
