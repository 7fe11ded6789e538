// proof-of-human/platform/telegram.go
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Asyncod/proof-of-human/models"
)

// TelegramClient is a thin Bot API HTTP client implementing Client. It does
// transport and error mapping only; everything above it speaks the Client
// interface.
type TelegramClient struct {
	token   string
	botID   int64
	baseURL string
	http    *http.Client
}

// NewTelegramClient builds a client for the given bot token. The bot's own
// id is the numeric prefix of the token.
func NewTelegramClient(token string) (*TelegramClient, error) {
	idPart, _, ok := strings.Cut(token, ":")
	if !ok {
		return nil, fmt.Errorf("malformed bot token")
	}
	botID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed bot token: %w", err)
	}
	return &TelegramClient{
		token:   token,
		botID:   botID,
		baseURL: "https://api.telegram.org",
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (tc *TelegramClient) BotID() int64 { return tc.botID }

// SetBaseURL points the client at a different API host. Test hook.
func (tc *TelegramClient) SetBaseURL(u string) { tc.baseURL = strings.TrimSuffix(u, "/") }

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// mapError turns a Bot API failure into the platform error taxonomy.
func mapError(method string, resp apiResponse) error {
	switch {
	case resp.ErrorCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", method, ErrForbidden)
	case resp.ErrorCode == http.StatusBadRequest && strings.Contains(strings.ToLower(resp.Description), "not found"):
		return fmt.Errorf("%s: %w", method, ErrNotFound)
	default:
		return fmt.Errorf("%s: api error %d: %s", method, resp.ErrorCode, resp.Description)
	}
}

func (tc *TelegramClient) call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", tc.baseURL, tc.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tc.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	return decodeResponse(method, resp.Body)
}

func decodeResponse(method string, r io.Reader) (json.RawMessage, error) {
	var api apiResponse
	if err := json.NewDecoder(r).Decode(&api); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", method, err)
	}
	if !api.OK {
		return nil, mapError(method, api)
	}
	return api.Result, nil
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// optionKeyboard lays the six options out in two rows of three.
func optionKeyboard(options []Option) map[string]any {
	var rows [][]inlineButton
	for i := 0; i < len(options); i += 3 {
		end := i + 3
		if end > len(options) {
			end = len(options)
		}
		var row []inlineButton
		for _, opt := range options[i:end] {
			row = append(row, inlineButton{Text: opt.Label, CallbackData: opt.ActionData})
		}
		rows = append(rows, row)
	}
	return map[string]any{"inline_keyboard": rows}
}

func messageID(method string, result json.RawMessage) (int64, error) {
	var sent struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(result, &sent); err != nil {
		return 0, fmt.Errorf("%s: decode result: %w", method, err)
	}
	return sent.MessageID, nil
}

func (tc *TelegramClient) SendChallenge(ctx context.Context, chatID, replyTo int64, text string, photo []byte, options []Option) (int64, error) {
	if photo != nil {
		return tc.sendPhotoChallenge(ctx, chatID, replyTo, text, photo, options)
	}

	result, err := tc.call(ctx, "sendMessage", map[string]any{
		"chat_id":             chatID,
		"text":                text,
		"reply_to_message_id": replyTo,
		"reply_markup":        optionKeyboard(options),
	})
	if err != nil {
		return 0, err
	}
	return messageID("sendMessage", result)
}

// sendPhotoChallenge uploads the prompt picture via multipart sendPhoto.
func (tc *TelegramClient) sendPhotoChallenge(ctx context.Context, chatID, replyTo int64, caption string, photo []byte, options []Option) (int64, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"chat_id":             strconv.FormatInt(chatID, 10),
		"caption":             caption,
		"reply_to_message_id": strconv.FormatInt(replyTo, 10),
	}
	markup, err := json.Marshal(optionKeyboard(options))
	if err != nil {
		return 0, fmt.Errorf("sendPhoto: encode keyboard: %w", err)
	}
	fields["reply_markup"] = string(markup)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return 0, fmt.Errorf("sendPhoto: write field %s: %w", k, err)
		}
	}
	part, err := w.CreateFormFile("photo", "challenge.png")
	if err != nil {
		return 0, fmt.Errorf("sendPhoto: create photo part: %w", err)
	}
	if _, err := part.Write(photo); err != nil {
		return 0, fmt.Errorf("sendPhoto: write photo: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, err
	}

	url := fmt.Sprintf("%s/bot%s/sendPhoto", tc.baseURL, tc.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := tc.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sendPhoto: %w", err)
	}
	defer resp.Body.Close()

	result, err := decodeResponse("sendPhoto", resp.Body)
	if err != nil {
		return 0, err
	}
	return messageID("sendPhoto", result)
}

func (tc *TelegramClient) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	_, err := tc.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	})
	return err
}

func (tc *TelegramClient) GetMemberStatus(ctx context.Context, chatID, userID int64) (models.MemberStatus, error) {
	result, err := tc.call(ctx, "getChatMember", map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	})
	if err != nil {
		return "", err
	}
	var member struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(result, &member); err != nil {
		return "", fmt.Errorf("getChatMember: decode result: %w", err)
	}
	return models.MemberStatus(member.Status), nil
}

func (tc *TelegramClient) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	result, err := tc.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return 0, err
	}
	return messageID("sendMessage", result)
}

func (tc *TelegramClient) AnswerAction(ctx context.Context, queryID, text string, alert bool) error {
	_, err := tc.call(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": queryID,
		"text":              text,
		"show_alert":        alert,
	})
	// An expired query is not actionable; the platform reports it as a
	// bad request. Surface everything else.
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "query is too old") {
		return nil
	}
	return err
}

// DropPendingUpdates discards updates queued while the process was down.
func (tc *TelegramClient) DropPendingUpdates(ctx context.Context) error {
	_, err := tc.call(ctx, "deleteWebhook", map[string]any{
		"drop_pending_updates": true,
	})
	return err
}

// SetWebhook registers the public webhook URL with the platform.
func (tc *TelegramClient) SetWebhook(ctx context.Context, url, secret string) error {
	payload := map[string]any{
		"url":             url,
		"allowed_updates": []string{"message", "callback_query", "my_chat_member", "chat_member"},
	}
	if secret != "" {
		payload["secret_token"] = secret
	}
	_, err := tc.call(ctx, "setWebhook", payload)
	return err
}
