package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"carconnect/internal/domain/entity"
	"carconnect/internal/domain/repository"
	"carconnect/pkg/errors"
	"carconnect/pkg/logger"
	"carconnect/pkg/response"
)

type Options struct {
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

type restChatRepository struct {
	baseURL    string
	token      string
	client     *http.Client
	timeout    time.Duration
	maxRetries uint64
	baseDelay  time.Duration
}

func NewRESTChatRepository(baseURL, token string, opts Options) repository.ChatRepository {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}

	return &restChatRepository{
		baseURL:    baseURL,
		token:      token,
		client:     &http.Client{},
		timeout:    opts.RequestTimeout,
		maxRetries: uint64(opts.MaxRetries),
		baseDelay:  opts.RetryBaseDelay,
	}
}

func (r *restChatRepository) ListConversations(ctx context.Context) ([]entity.Conversation, error) {
	var conversations []entity.Conversation
	if err := r.do(ctx, http.MethodGet, "/messages/conversations", nil, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

func (r *restChatRepository) ListMessages(ctx context.Context, listingID, peerID string) ([]entity.ChatMessage, error) {
	path := fmt.Sprintf("/messages/%s/%s", url.PathEscape(listingID), url.PathEscape(peerID))

	var messages []entity.ChatMessage
	if err := r.do(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *restChatRepository) CreateMessage(ctx context.Context, recipientID, listingID, content string) (*entity.ChatMessage, error) {
	body := map[string]string{
		"recipient_id": recipientID,
		"listing_id":   listingID,
		"content":      content,
	}

	var message entity.ChatMessage
	if err := r.do(ctx, http.MethodPost, "/messages", body, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *restChatRepository) MarkRead(ctx context.Context, messageIDs []string) (int, error) {
	body := map[string][]string{"message_ids": messageIDs}

	var result struct {
		Updated int `json:"updated"`
	}
	if err := r.do(ctx, http.MethodPost, "/messages/mark-read", body, &result); err != nil {
		return 0, err
	}
	return result.Updated, nil
}

// do runs one API call with the retry policy: per-attempt timeout,
// exponential backoff for network failures and 5xx responses, no retry
// at all for 4xx responses.
func (r *restChatRepository) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	operation := func() error {
		err := r.attempt(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if !errors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		logger.Warn("API %s %s failed, will retry: %v", method, path, err)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.baseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, r.maxRetries), ctx))
}

func (r *restChatRepository) attempt(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Internal("failed to encode request body", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, r.baseURL+path, reader)
	if err != nil {
		return errors.Internal("failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return errors.Timeout("request timed out", err)
		}
		return errors.Unavailable("API unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Unavailable("failed to read response", err)
	}

	return response.Decode(resp.StatusCode, raw, out)
}
