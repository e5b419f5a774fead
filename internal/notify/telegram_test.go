package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type capturedCall struct {
	path    string
	payload map[string]any
}

func newTelegramServer(t *testing.T, status int, body string) (*httptest.Server, *[]capturedCall) {
	t.Helper()
	calls := &[]capturedCall{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read request body: %v", err)
		}
		payload := map[string]any{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &payload); err != nil {
				t.Errorf("failed to decode request body: %v", err)
			}
		}
		*calls = append(*calls, capturedCall{path: r.URL.Path, payload: payload})
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, calls
}

func newTestClient(t *testing.T, baseURL string) *Telegram {
	t.Helper()
	client, err := NewTelegram(TelegramConfig{APIBase: baseURL, BotToken: "bot-token"})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	return client
}

func TestNotifySendsMessageAndReturnsID(t *testing.T) {
	server, calls := newTelegramServer(t, http.StatusOK, `{"ok":true,"result":{"message_id":555}}`)
	client := newTestClient(t, server.URL)

	messageID, err := client.Notify(context.Background(), -100, "hello raiders")
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if messageID != 555 {
		t.Fatalf("expected message id 555, got %d", messageID)
	}

	if len(*calls) != 1 {
		t.Fatalf("expected one API call, got %d", len(*calls))
	}
	call := (*calls)[0]
	if !strings.HasSuffix(call.path, "/botbot-token/sendMessage") {
		t.Fatalf("unexpected endpoint %q", call.path)
	}
	if call.payload["text"] != "hello raiders" {
		t.Fatalf("unexpected payload: %v", call.payload)
	}
	if _, hasMarkup := call.payload["reply_markup"]; hasMarkup {
		t.Fatalf("expected no keyboard without buttons")
	}
}

func TestNotifyAttachesInlineKeyboard(t *testing.T) {
	server, calls := newTelegramServer(t, http.StatusOK, `{"ok":true,"result":{"message_id":1}}`)
	client := newTestClient(t, server.URL)

	_, err := client.Notify(context.Background(), -100, "react below",
		Button{Label: "🔥 React!", CallbackData: "signed-data"})
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	markup, ok := (*calls)[0].payload["reply_markup"].(map[string]any)
	if !ok {
		t.Fatalf("expected inline keyboard in payload: %v", (*calls)[0].payload)
	}
	rows, ok := markup["inline_keyboard"].([]any)
	if !ok || len(rows) != 1 {
		t.Fatalf("expected a single keyboard row: %v", markup)
	}
	buttons, ok := rows[0].([]any)
	if !ok || len(buttons) != 1 {
		t.Fatalf("expected a single button: %v", rows)
	}
	button := buttons[0].(map[string]any)
	if button["text"] != "🔥 React!" || button["callback_data"] != "signed-data" {
		t.Fatalf("unexpected button payload: %v", button)
	}
}

func TestEditTargetsMessage(t *testing.T) {
	server, calls := newTelegramServer(t, http.StatusOK, `{"ok":true,"result":{"message_id":7}}`)
	client := newTestClient(t, server.URL)

	if err := client.Edit(context.Background(), -100, 7, "updated"); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	call := (*calls)[0]
	if !strings.HasSuffix(call.path, "/editMessageText") {
		t.Fatalf("unexpected endpoint %q", call.path)
	}
	if call.payload["message_id"] != float64(7) || call.payload["text"] != "updated" {
		t.Fatalf("unexpected payload: %v", call.payload)
	}
}

func TestPinTargetsMessage(t *testing.T) {
	server, calls := newTelegramServer(t, http.StatusOK, `{"ok":true,"result":{}}`)
	client := newTestClient(t, server.URL)

	if err := client.Pin(context.Background(), -100, 9); err != nil {
		t.Fatalf("pin failed: %v", err)
	}
	if !strings.HasSuffix((*calls)[0].path, "/pinChatMessage") {
		t.Fatalf("unexpected endpoint %q", (*calls)[0].path)
	}
}

func TestIsPrivileged(t *testing.T) {
	cases := []struct {
		status     string
		privileged bool
	}{
		{status: "creator", privileged: true},
		{status: "administrator", privileged: true},
		{status: "member", privileged: false},
		{status: "left", privileged: false},
	}

	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			server, _ := newTelegramServer(t, http.StatusOK,
				`{"ok":true,"result":{"status":"`+tc.status+`"}}`)
			client := newTestClient(t, server.URL)

			privileged, err := client.IsPrivileged(context.Background(), -100, 42)
			if err != nil {
				t.Fatalf("privilege check failed: %v", err)
			}
			if privileged != tc.privileged {
				t.Fatalf("expected privileged=%v for status %q", tc.privileged, tc.status)
			}
		})
	}
}

func TestCallReportsRejection(t *testing.T) {
	server, _ := newTelegramServer(t, http.StatusBadGateway, `{"ok":false}`)
	client := newTestClient(t, server.URL)

	if _, err := client.Notify(context.Background(), -100, "hello"); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if err := client.Edit(context.Background(), -100, 1, "hello"); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if _, err := client.IsPrivileged(context.Background(), -100, 1); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
}

func TestNewTelegramValidatesConfig(t *testing.T) {
	if _, err := NewTelegram(TelegramConfig{BotToken: "token"}); !errors.Is(err, ErrInvalidTelegramConfig) {
		t.Fatalf("expected config error without api base, got %v", err)
	}
	if _, err := NewTelegram(TelegramConfig{APIBase: "https://example.test"}); !errors.Is(err, ErrInvalidTelegramConfig) {
		t.Fatalf("expected config error without bot token, got %v", err)
	}
}
