package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"marketplace-chat/internal/credentials"
	"marketplace-chat/internal/domain"
	"marketplace-chat/internal/transport/httpdto"
	chat_errors "marketplace-chat/pkg/errors"
	"marketplace-chat/pkg/logger"

	"github.com/google/uuid"
)

// APIError is a non-2xx answer from the marketplace API. It unwraps to the
// matching chat error so callers can use errors.Is.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("marketplace api returned status %d", e.Status)
	}
	return fmt.Sprintf("marketplace api returned status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return chat_errors.ErrUnauthorized
	case e.Status == http.StatusNotFound:
		return chat_errors.ErrNotFound
	case e.Status == http.StatusBadRequest:
		return chat_errors.ErrInvalidInput
	default:
		return chat_errors.ErrServiceUnavailable
	}
}

// Client talks to the chat endpoints of the marketplace REST API.
type Client struct {
	baseURL string
	http    *http.Client
	creds   credentials.Source
	logger  *logger.Logger
}

func New(baseURL string, httpClient *http.Client, creds credentials.Source, l *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		creds:   creds,
		logger:  l.Named("restclient"),
	}
}

func (c *Client) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	var chats []httpdto.APIChat
	if err := c.do(ctx, http.MethodGet, "/api/chats", nil, nil, &chats); err != nil {
		return nil, err
	}
	out := make([]domain.Conversation, 0, len(chats))
	for _, chat := range chats {
		out = append(out, chat.ToDomain())
	}
	return out, nil
}

// GetMessages fetches one page of history. The server orders each page
// newest first.
func (c *Client) GetMessages(ctx context.Context, conversationID uuid.UUID, page, size int) (domain.MessagePage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(size))

	var result httpdto.APIMessagePage
	path := "/api/chats/" + conversationID.String() + "/messages"
	if err := c.do(ctx, http.MethodGet, path, query, nil, &result); err != nil {
		return domain.MessagePage{}, err
	}
	return result.ToDomain(conversationID, page), nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID uuid.UUID, text string) (domain.ChatMessage, error) {
	return c.postMessage(ctx, conversationID, httpdto.APISendMessageRequest{Content: text})
}

func (c *Client) ShareListing(ctx context.Context, conversationID, listingID uuid.UUID, text string) (domain.ChatMessage, error) {
	if listingID == uuid.Nil {
		return domain.ChatMessage{}, chat_errors.ErrInvalidInput
	}
	return c.postMessage(ctx, conversationID, httpdto.APISendMessageRequest{
		Content:         text,
		SharedListingID: listingID.String(),
	})
}

func (c *Client) postMessage(ctx context.Context, conversationID uuid.UUID, req httpdto.APISendMessageRequest) (domain.ChatMessage, error) {
	var msg httpdto.APIMessage
	path := "/api/chats/" + conversationID.String() + "/messages"
	if err := c.do(ctx, http.MethodPost, path, nil, req, &msg); err != nil {
		return domain.ChatMessage{}, err
	}
	return msg.ToDomain(conversationID), nil
}

// StartConversation returns the caller's conversation about a listing,
// creating it if needed.
func (c *Client) StartConversation(ctx context.Context, listingID uuid.UUID) (domain.Conversation, error) {
	var chat httpdto.APIChat
	if err := c.do(ctx, http.MethodPost, "/api/chats/listing/"+listingID.String(), nil, nil, &chat); err != nil {
		return domain.Conversation{}, err
	}
	return chat.ToDomain(), nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	token, err := c.creds.Credential(ctx)
	if errors.Is(err, chat_errors.ErrNoCredential) {
		return chat_errors.ErrUnauthorized
	}
	if err != nil {
		return err
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WithContext(ctx).Sugar().Warnf("%s %s failed: %v", method, path, err)
		return fmt.Errorf("%w: %v", chat_errors.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		var decoded httpdto.APIError
		if json.Unmarshal(snippet, &decoded) == nil {
			apiErr.Message = decoded.Message
			if apiErr.Message == "" {
				apiErr.Message = decoded.Error
			}
		} else {
			apiErr.Message = strings.TrimSpace(string(snippet))
		}
		c.logger.WithContext(ctx).Sugar().Warnf("%s %s: %v", method, path, apiErr)
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", chat_errors.ErrMalformedPayload, err)
	}
	return nil
}
