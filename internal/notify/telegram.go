package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultRequestTimeout = 10 * time.Second

var (
	// ErrDeliveryFailed indicates the chat platform rejected or never
	// received an outbound call.
	ErrDeliveryFailed = errors.New("notify: delivery failed")

	errMissingAPIBase  = errors.New("api base url required")
	errMissingBotToken = errors.New("bot token required")

	// ErrInvalidTelegramConfig indicates the Telegram client configuration is incomplete.
	ErrInvalidTelegramConfig = errors.New("notify: invalid telegram config")
)

// Button is an inline keyboard button carrying opaque callback data. The
// engine never formats platform markup beyond plain text plus these.
type Button struct {
	Label        string
	CallbackData string
}

// TelegramConfig bundles configuration for the Telegram bot API client.
type TelegramConfig struct {
	APIBase    string
	BotToken   string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Telegram talks to the Telegram bot HTTP API. It implements the display
// adapter and privilege check contracts consumed by the raid engine and the
// HTTP surface.
type Telegram struct {
	apiBase    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTelegram constructs a Telegram client with validated configuration.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	apiBase := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if apiBase == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTelegramConfig, errMissingAPIBase)
	}
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTelegramConfig, errMissingBotToken)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Telegram{
		apiBase:    apiBase,
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type inlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

type apiResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Description string `json:"description"`
}

type chatMemberResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		Status string `json:"status"`
	} `json:"result"`
}

// Notify posts a new message to the chat and returns its message id.
func (t *Telegram) Notify(ctx context.Context, chatID int64, text string, buttons ...Button) (int64, error) {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if len(buttons) > 0 {
		row := make([]inlineKeyboardButton, 0, len(buttons))
		for _, button := range buttons {
			row = append(row, inlineKeyboardButton{Text: button.Label, CallbackData: button.CallbackData})
		}
		payload["reply_markup"] = inlineKeyboardMarkup{InlineKeyboard: [][]inlineKeyboardButton{row}}
	}

	var parsed apiResponse
	if err := t.call(ctx, "sendMessage", payload, &parsed); err != nil {
		return 0, err
	}
	return parsed.Result.MessageID, nil
}

// Edit replaces the text of an existing message.
func (t *Telegram) Edit(ctx context.Context, chatID, messageID int64, text string) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	var parsed apiResponse
	return t.call(ctx, "editMessageText", payload, &parsed)
}

// Pin pins a message in the chat.
func (t *Telegram) Pin(ctx context.Context, chatID, messageID int64) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}
	var parsed apiResponse
	return t.call(ctx, "pinChatMessage", payload, &parsed)
}

// IsPrivileged reports whether the user is an administrator or the creator
// of the chat. Lookup failures count as not privileged.
func (t *Telegram) IsPrivileged(ctx context.Context, chatID, userID int64) (bool, error) {
	payload := map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	}
	var parsed chatMemberResponse
	if err := t.call(ctx, "getChatMember", payload, &parsed); err != nil {
		return false, err
	}
	switch parsed.Result.Status {
	case "administrator", "creator":
		return true, nil
	default:
		return false, nil
	}
}

func (t *Telegram) call(ctx context.Context, method string, payload map[string]any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode %s payload: %v", ErrDeliveryFailed, method, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", t.apiBase, t.token, method)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := t.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		t.logger.Warn("telegram call rejected",
			zap.String("method", method),
			zap.Int("status", response.StatusCode))
		return fmt.Errorf("%w: %s returned status %d", ErrDeliveryFailed, method, response.StatusCode)
	}

	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrDeliveryFailed, method, err)
	}
	return nil
}
