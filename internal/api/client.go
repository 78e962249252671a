// Package api talks to the persistence service that owns rooms, messages and
// notifications. Every call carries the session's bearer credential.
package api

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
	"time"

	"delivery-sync/internal/models"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrUnauthorized is left for the host's session interceptor; this
	// package never retries it.
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

type SendMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

type CreateRoomRequest struct {
	Name         string   `json:"name" validate:"required,max=200"`
	Participants []string `json:"participants" validate:"required,min=1,dive,required"`
}

type markAllReadRequest struct {
	RecipientID string `json:"recipientId" validate:"required"`
}

type Client struct {
	base     *url.URL
	token    string
	http     *http.Client
	validate *validator.Validate
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	c := &Client{
		base:     u,
		token:    token,
		http:     &http.Client{Timeout: 15 * time.Second},
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("build %s url: %w", path, err)
	}
	ref.RawQuery = query.Encode()
	u := c.base.ResolveReference(ref)

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) ListRooms(ctx context.Context) ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	if err := c.do(ctx, http.MethodGet, "rooms", nil, nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (*models.ChatRoom, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	var room models.ChatRoom
	if err := c.do(ctx, http.MethodPost, "rooms", nil, req, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) ListMessages(ctx context.Context, roomID string, limit, offset int) ([]models.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var msgs []models.Message
	if err := c.do(ctx, http.MethodGet, "rooms/"+url.PathEscape(roomID)+"/messages", q, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) SendMessage(ctx context.Context, roomID, content string) (*models.Message, error) {
	req := SendMessageRequest{Content: content}
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	var msg models.Message
	if err := c.do(ctx, http.MethodPost, "rooms/"+url.PathEscape(roomID)+"/messages", nil, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) MarkRoomRead(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPut, "rooms/"+url.PathEscape(roomID)+"/read", nil, nil, nil)
}

func (c *Client) ListNotifications(ctx context.Context, recipientID string) ([]models.Notification, error) {
	q := url.Values{}
	q.Set("recipientId", recipientID)
	var list []models.Notification
	if err := c.do(ctx, http.MethodGet, "notifications", q, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, "notifications/"+url.PathEscape(id)+"/read", nil, nil, nil)
}

func (c *Client) DismissNotification(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, "notifications/"+url.PathEscape(id)+"/dismiss", nil, nil, nil)
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context, recipientID string) error {
	req := markAllReadRequest{RecipientID: recipientID}
	if err := c.validate.Struct(req); err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	return c.do(ctx, http.MethodPut, "notifications/mark-all-read", nil, req, nil)
}

func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "notifications/"+url.PathEscape(id), nil, nil, nil)
}
