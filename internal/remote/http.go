package remote

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTPClient talks to a messaging service exposing a JSON REST API.
type HTTPClient struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewHTTPClient builds a client for baseURL. An empty token sends no Authorization header.
func NewHTTPClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPClient{http: client, logger: logger}
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type unreadRequest struct {
	IDs []string `json:"ids"`
}

type unreadResponse struct {
	Counts map[string]int `json:"counts"`
}

// FetchSnapshot returns every conversation keyed by id.
func (c *HTTPClient) FetchSnapshot(ctx context.Context) (map[string]RawConversation, error) {
	var out map[string]RawConversation
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/conversations")
	if err := c.check("fetch snapshot", resp, err); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]RawConversation{}
	}
	return out, nil
}

// FetchUnreadCounts returns the authoritative unread count of each id.
func (c *HTTPClient) FetchUnreadCounts(ctx context.Context, ids []string) (map[string]int, error) {
	var out unreadResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(unreadRequest{IDs: ids}).
		SetResult(&out).
		Post("/api/unread-counts")
	if err := c.check("fetch unread counts", resp, err); err != nil {
		return nil, err
	}
	if out.Counts == nil {
		out.Counts = map[string]int{}
	}
	return out.Counts, nil
}

// SendDelete deletes a conversation on the remote side.
func (c *HTTPClient) SendDelete(ctx context.Context, id string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Delete("/api/conversations/{id}")
	return c.check("delete conversation", resp, err)
}

// SendMarkRead marks every message of a conversation as read.
func (c *HTTPClient) SendMarkRead(ctx context.Context, id string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Post("/api/conversations/{id}/read")
	return c.check("mark read", resp, err)
}

// SendMessage posts a message and returns the server acknowledgement.
func (c *HTTPClient) SendMessage(ctx context.Context, req SendRequest) (Ack, error) {
	var ack Ack
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", req.ConversationID).
		SetBody(req).
		SetResult(&ack).
		Post("/api/conversations/{id}/messages")
	if err := c.check("send message", resp, err); err != nil {
		return Ack{}, err
	}
	if ack.ClientMsgID == "" {
		ack.ClientMsgID = req.ClientMsgID
	}
	return ack, nil
}

// Status reports the remote service health.
func (c *HTTPClient) Status(ctx context.Context) (ServiceStatus, error) {
	var st ServiceStatus
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&st).
		Get("/api/status")
	if err := c.check("status", resp, err); err != nil {
		return ServiceStatus{}, err
	}
	return st, nil
}

func (c *HTTPClient) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		c.logger.Debug("remote request failed", zap.String("op", op), zap.Error(err))
		return Classify(op, err)
	}
	if !resp.IsError() {
		return nil
	}
	msg := strings.TrimSpace(resp.String())
	var body apiError
	if json.Unmarshal(resp.Body(), &body) == nil {
		switch {
		case body.Message != "":
			msg = body.Message
		case body.Error != "":
			msg = body.Error
		}
	}
	c.logger.Debug("remote request rejected",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode()),
		zap.String("message", msg),
	)
	return FromStatus(op, resp.StatusCode(), msg)
}
