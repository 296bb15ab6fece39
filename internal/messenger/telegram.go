package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	defaultTelegramAPIURL  = "https://api.telegram.org"
	defaultUploadTimeout   = 30 * time.Minute
	defaultRetryAfter      = 5 * time.Second
	maxLinkButtons         = 8
	parseModeHTML          = "HTML"
	maxErrorMessageSnippet = 300
)

// apiResponse is the envelope of every Bot API reply.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type messageResult struct {
	MessageID int64 `json:"message_id"`
}

type topicResult struct {
	MessageThreadID int64 `json:"message_thread_id"`
}

type inlineButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

// TelegramMessenger talks to the Telegram Bot API.
type TelegramMessenger struct {
	client   *resty.Client
	endpoint string
	logger   *zap.Logger
}

func NewTelegramMessenger(apiURL string, token string, logger *zap.Logger) (*TelegramMessenger, error) {
	client := resty.New()
	client.SetTimeout(defaultUploadTimeout)
	client.SetRetryCount(0)

	return NewTelegramMessengerWithClient(apiURL, token, client, logger)
}

func NewTelegramMessengerWithClient(apiURL string, token string, client *resty.Client, logger *zap.Logger) (*TelegramMessenger, error) {
	trimmedURL := strings.TrimRight(strings.TrimSpace(apiURL), "/")
	if trimmedURL == "" {
		trimmedURL = defaultTelegramAPIURL
	}
	if _, err := url.ParseRequestURI(trimmedURL); err != nil {
		return nil, fmt.Errorf("invalid telegram api url: %w", err)
	}
	trimmedToken := strings.TrimSpace(token)
	if trimmedToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultUploadTimeout)
	}
	client.SetRetryCount(0)

	return &TelegramMessenger{
		client:   client,
		endpoint: trimmedURL + "/bot" + trimmedToken,
		logger:   logger,
	}, nil
}

func (m *TelegramMessenger) SendDocument(ctx context.Context, chat string, path string, caption string, thread int64) (int64, error) {
	form := map[string]string{
		"chat_id":    chat,
		"caption":    caption,
		"parse_mode": parseModeHTML,
	}
	setThread(form, thread)

	req := m.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetFile("document", path)

	var result messageResult
	if err := m.call(req, "sendDocument", &result); err != nil {
		return 0, err
	}
	return result.MessageID, nil
}

func (m *TelegramMessenger) SendVideo(ctx context.Context, chat string, video VideoUpload, thread int64) (int64, error) {
	form := map[string]string{
		"chat_id":            chat,
		"caption":            video.Caption,
		"parse_mode":         parseModeHTML,
		"supports_streaming": "true",
	}
	if video.Duration > 0 {
		form["duration"] = strconv.FormatInt(int64(video.Duration.Round(time.Second)/time.Second), 10)
	}
	setThread(form, thread)

	req := m.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetFile("video", video.Path)
	if video.ThumbnailPath != "" {
		req.SetFile("thumbnail", video.ThumbnailPath)
	}

	var result messageResult
	if err := m.call(req, "sendVideo", &result); err != nil {
		return 0, err
	}
	return result.MessageID, nil
}

// SendLinkCard posts the caption with one button per link instead of uploading the media.
func (m *TelegramMessenger) SendLinkCard(ctx context.Context, chat string, urls []string, caption string, thread int64) (int64, error) {
	rows := make([][]inlineButton, 0, len(urls))
	for i, link := range urls {
		if i >= maxLinkButtons {
			break
		}
		label := "Watch"
		if len(urls) > 1 {
			label = fmt.Sprintf("Watch %d", i+1)
		}
		rows = append(rows, []inlineButton{{Text: label, URL: link}})
	}

	body := map[string]any{
		"chat_id":    chat,
		"text":       caption,
		"parse_mode": parseModeHTML,
	}
	if len(rows) > 0 {
		body["reply_markup"] = inlineKeyboard{InlineKeyboard: rows}
	}
	if thread > 0 {
		body["message_thread_id"] = thread
	}

	var result messageResult
	if err := m.call(m.jsonRequest(ctx, body), "sendMessage", &result); err != nil {
		return 0, err
	}
	return result.MessageID, nil
}

func (m *TelegramMessenger) SendText(ctx context.Context, chat string, text string, thread int64) (int64, error) {
	body := map[string]any{
		"chat_id":    chat,
		"text":       text,
		"parse_mode": parseModeHTML,
	}
	if thread > 0 {
		body["message_thread_id"] = thread
	}

	var result messageResult
	if err := m.call(m.jsonRequest(ctx, body), "sendMessage", &result); err != nil {
		return 0, err
	}
	return result.MessageID, nil
}

func (m *TelegramMessenger) CopyMessage(ctx context.Context, fromChat string, messageID int64, toChat string, thread int64) (int64, error) {
	body := map[string]any{
		"chat_id":      toChat,
		"from_chat_id": fromChat,
		"message_id":   messageID,
	}
	if thread > 0 {
		body["message_thread_id"] = thread
	}

	var result messageResult
	if err := m.call(m.jsonRequest(ctx, body), "copyMessage", &result); err != nil {
		return 0, err
	}
	return result.MessageID, nil
}

func (m *TelegramMessenger) CreateTopic(ctx context.Context, chat string, name string) (int64, error) {
	body := map[string]any{
		"chat_id": chat,
		"name":    truncateRunes(name, 128),
	}

	var result topicResult
	if err := m.call(m.jsonRequest(ctx, body), "createForumTopic", &result); err != nil {
		return 0, err
	}
	return result.MessageThreadID, nil
}

func (m *TelegramMessenger) jsonRequest(ctx context.Context, body any) *resty.Request {
	return m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
}

func (m *TelegramMessenger) call(req *resty.Request, method string, out any) error {
	if m == nil || m.client == nil {
		return fmt.Errorf("messenger is not initialized")
	}

	response, err := req.Post(m.endpoint + "/" + method)
	if err != nil {
		return &DeliveryError{
			Method:    method,
			Message:   "request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return &DeliveryError{Method: method, Message: "empty response", Transient: true}
	}

	var envelope apiResponse
	if err := json.Unmarshal(response.Body(), &envelope); err != nil {
		return &DeliveryError{
			Method:     method,
			StatusCode: response.StatusCode(),
			Message:    snippet(response.String()),
			Transient:  isTransientHTTPStatus(response.StatusCode()),
			Cause:      err,
		}
	}

	if !envelope.OK || response.IsError() {
		return classifyFailure(method, response.StatusCode(), envelope)
	}

	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return &DeliveryError{Method: method, Message: "unexpected result", Cause: err}
	}

	m.logger.Debug("telegram call succeeded", zap.String("method", method))
	return nil
}

func classifyFailure(method string, statusCode int, envelope apiResponse) error {
	code := envelope.ErrorCode
	if code == 0 {
		code = statusCode
	}
	description := strings.TrimSpace(envelope.Description)

	if code == http.StatusTooManyRequests {
		retryAfter := defaultRetryAfter
		if envelope.Parameters != nil && envelope.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(envelope.Parameters.RetryAfter) * time.Second
		}
		return &RateLimitedError{Method: method, RetryAfter: retryAfter}
	}

	lower := strings.ToLower(description)
	if code == http.StatusForbidden ||
		strings.Contains(lower, "not enough rights") ||
		strings.Contains(lower, "not a forum") {
		return &PermissionError{Method: method, Message: description}
	}

	return &DeliveryError{
		Method:     method,
		StatusCode: code,
		Message:    snippet(description),
		Transient:  isTransientHTTPStatus(code),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func setThread(form map[string]string, thread int64) {
	if thread > 0 {
		form["message_thread_id"] = strconv.FormatInt(thread, 10)
	}
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorMessageSnippet {
		return s[:maxErrorMessageSnippet]
	}
	return s
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
