// Package telegram hosts the Telegram client, routing, and handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"lunch_order_bot/internal/config"
	"lunch_order_bot/internal/logging"
	"lunch_order_bot/internal/workflow"
)

// Conversation is the command and button surface the client routes into,
// implemented by the workflow orchestrator.
type Conversation interface {
	Start(ctx context.Context, chatID int64)
	Stop(ctx context.Context, chatID int64)
	Status(ctx context.Context, chatID int64)
	HandleCallback(ctx context.Context, chatID int64, data string)
}

// botAPI captures the bot methods the client relies on, enabling fakes in
// tests.
type botAPI interface {
	Start(ctx context.Context)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	EditMessageReplyMarkup(ctx context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"callback_query",
	}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		return bot.New(token, options...)
	}
)

// Client wraps the Telegram bot instance and routes updates into the
// conversation. It also implements workflow.Messenger for outbound traffic.
type Client struct {
	bot          botAPI
	conversation Conversation
	targetChatID int64
	logger       *logrus.Entry
}

// NewClient initializes the Telegram bot with long polling and the update
// router. Attach must be called before Start so commands have a destination.
func NewClient(cfg config.Config, logger *logrus.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	client := &Client{
		targetChatID: cfg.TargetChatID,
		logger:       logger,
	}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(func(ctx context.Context, _ *bot.Bot, update *models.Update) {
			client.handleUpdate(ctx, update)
		}),
		bot.WithErrorsHandler(errorHandler(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}

	client.bot = tgBot
	return client, nil
}

// Attach binds the conversation the router dispatches into. Separate from
// NewClient because the orchestrator needs the client as its messenger.
func (c *Client) Attach(conversation Conversation) {
	c.conversation = conversation
}

// Start begins receiving updates via long polling until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

// SendText delivers a plain text message.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendChoices delivers a message with one inline button per choice.
func (c *Client) SendChoices(ctx context.Context, chatID int64, text string, choices []workflow.Choice) error {
	rows := make([][]models.InlineKeyboardButton, 0, len(choices))
	for _, choice := range choices {
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: choice.Label, CallbackData: choice.Data},
		})
	}

	_, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: &models.InlineKeyboardMarkup{InlineKeyboard: rows},
	})
	if err != nil {
		return fmt.Errorf("send choices: %w", err)
	}
	return nil
}

// SendPhoto delivers a photo by URL with a caption.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photoURL, caption string) error {
	_, err := c.bot.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:  chatID,
		Photo:   &models.InputFileString{Data: photoURL},
		Caption: caption,
	})
	if err != nil {
		return fmt.Errorf("send photo: %w", err)
	}
	return nil
}

type updateMeta struct {
	chatID     int64
	text       string
	updateType string
}

// handleUpdate routes one incoming update. Updates from chats other than the
// configured operator chat are logged and dropped.
func (c *Client) handleUpdate(ctx context.Context, update *models.Update) {
	if update == nil {
		return
	}

	meta := extractUpdateMeta(update)

	fields := logging.Fields{
		"event":       "telegram_update",
		"update_type": meta.updateType,
	}
	if meta.text != "" {
		fields["text"] = meta.text
	}
	if meta.chatID != 0 {
		fields["chat_id"] = meta.chatID
	}
	c.logger.WithFields(fields).Info("telegram update received")

	if c.targetChatID != 0 && meta.chatID != c.targetChatID {
		c.logger.WithFields(logging.Fields{
			"event":   "telegram_update_ignored",
			"chat_id": meta.chatID,
		}).Warn("update from an unexpected chat ignored")
		return
	}

	if c.conversation == nil {
		c.logger.WithField("event", "telegram_no_conversation").Warn("no conversation attached, update dropped")
		return
	}

	switch meta.updateType {
	case "message":
		c.handleCommand(ctx, meta)
	case "callback_query":
		c.handleCallbackQuery(ctx, update.CallbackQuery, meta)
	}
}

func (c *Client) handleCommand(ctx context.Context, meta updateMeta) {
	switch commandName(meta.text) {
	case "/start":
		c.conversation.Start(ctx, meta.chatID)
	case "/stop":
		c.conversation.Stop(ctx, meta.chatID)
	case "/status":
		c.conversation.Status(ctx, meta.chatID)
	default:
		if err := c.SendText(ctx, meta.chatID, "Available commands:\n/start - activate reminders\n/stop - deactivate reminders\n/status - show the schedule"); err != nil {
			c.logger.WithField("event", "telegram_send_failed").WithError(err).Error("could not send help text")
		}
	}
}

// handleCallbackQuery acknowledges the button press, removes the inline
// keyboard so it cannot be pressed twice, and forwards the payload.
func (c *Client) handleCallbackQuery(ctx context.Context, query *models.CallbackQuery, meta updateMeta) {
	if query == nil {
		return
	}

	if _, err := c.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: query.ID,
	}); err != nil {
		c.logger.WithField("event", "telegram_callback_ack_failed").WithError(err).Warn("could not acknowledge callback")
	}

	if msgID := messageID(query.Message); msgID != 0 && meta.chatID != 0 {
		if _, err := c.bot.EditMessageReplyMarkup(ctx, &bot.EditMessageReplyMarkupParams{
			ChatID:      meta.chatID,
			MessageID:   msgID,
			ReplyMarkup: models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{}},
		}); err != nil {
			c.logger.WithField("event", "telegram_markup_clear_failed").WithError(err).Warn("could not remove inline keyboard")
		}
	}

	c.conversation.HandleCallback(ctx, meta.chatID, meta.text)
}

// commandName extracts the command from a message, tolerating the @botname
// suffix Telegram appends in groups.
func commandName(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}

	name, _, _ := strings.Cut(fields[0], "@")
	return name
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil:
		return updateMeta{
			chatID:     chatID(&update.Message.Chat),
			text:       strings.TrimSpace(update.Message.Text),
			updateType: "message",
		}
	case update.CallbackQuery != nil:
		return updateMeta{
			chatID:     messageChatID(update.CallbackQuery.Message),
			text:       strings.TrimSpace(update.CallbackQuery.Data),
			updateType: "callback_query",
		}
	default:
		return updateMeta{updateType: "unknown"}
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func chatID(chat *models.Chat) int64 {
	if chat == nil {
		return 0
	}

	return chat.ID
}

func messageID(msg models.MaybeInaccessibleMessage) int {
	if msg.Type == models.MaybeInaccessibleMessageTypeMessage && msg.Message != nil {
		return msg.Message.ID
	}
	return 0
}

func messageChatID(msg models.MaybeInaccessibleMessage) int64 {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0
		}
		return chatID(&msg.Message.Chat)
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0
		}
		return chatID(&msg.InaccessibleMessage.Chat)
	default:
		return 0
	}
}
