// Package chatclient connects the chatsync store to a chat server: a REST
// client for history and sends, a realtime WebSocket client, and a Session
// that owns the store and applies every event on one goroutine.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Billboah/ChatApp-sub000/internal/models"
	"github.com/pkg/errors"
)

const DefaultTimeout = 15 * time.Second

// ErrUnauthorized is returned when the server rejects the bearer token.
var ErrUnauthorized = errors.New("chatclient: unauthorized")

// APIError is a non-2xx response from the chat server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatclient: server returned %d: %s", e.Status, e.Message)
}

type API struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type APIOption func(*API)

func WithHTTPClient(client *http.Client) APIOption {
	return func(a *API) { a.httpClient = client }
}

func WithTimeout(timeout time.Duration) APIOption {
	return func(a *API) { a.httpClient.Timeout = timeout }
}

func NewAPI(baseURL, token string, opts ...APIOption) *API {
	a := &API{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) ListChats(ctx context.Context) ([]models.ChatSummary, error) {
	var out struct {
		Chats []models.ChatSummary `json:"chats"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/v1/chats", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Chats, nil
}

// FetchMessages loads the unread slice and one history page of a chat.
// lastMessageID 0 requests the newest page.
func (a *API) FetchMessages(ctx context.Context, chatID int64, lastMessageID int64) (*models.HistoryPage, error) {
	query := url.Values{}
	if lastMessageID > 0 {
		query.Set("lastMessageId", strconv.FormatInt(lastMessageID, 10))
	}

	var page models.HistoryPage
	if err := a.do(ctx, http.MethodGet, chatPath(chatID, "messages"), query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (a *API) SendMessage(ctx context.Context, chatID int64, content string) (*models.Message, error) {
	var out struct {
		Message models.Message `json:"message"`
	}
	body := map[string]string{"content": content}
	if err := a.do(ctx, http.MethodPost, chatPath(chatID, "messages"), nil, body, &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

func (a *API) Unread(ctx context.Context, chatID int64) ([]models.Message, error) {
	var out struct {
		UnreadMessages []models.Message `json:"unread_messages"`
	}
	if err := a.do(ctx, http.MethodGet, chatPath(chatID, "unread"), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.UnreadMessages, nil
}

func (a *API) Online(ctx context.Context, chatID int64) ([]int64, error) {
	var out struct {
		OnlineUserIDs []int64 `json:"online_user_ids"`
	}
	if err := a.do(ctx, http.MethodGet, chatPath(chatID, "online"), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.OnlineUserIDs, nil
}

func chatPath(chatID int64, suffix string) string {
	return "/api/v1/chats/" + strconv.FormatInt(chatID, 10) + "/" + suffix
}

func (a *API) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	u := a.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &payload)
		if payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: payload.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
