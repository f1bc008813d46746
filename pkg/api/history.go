package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mahaj/whisper/pkg/model"
)

// Recent returns the most recent page of messages, newest first.
func (c *Client) Recent(ctx context.Context) ([]model.Message, error) {
	var page []model.Message
	if err := c.do(ctx, c.authed, http.MethodGet, c.pagePath("/api/messages/recent"), nil, &page); err != nil {
		return nil, err
	}
	return page, nil
}

// Before returns the page of messages strictly older than id.
func (c *Client) Before(ctx context.Context, id int64) ([]model.Message, error) {
	path := "/api/messages/before/" + strconv.FormatInt(id, 10)
	var page []model.Message
	if err := c.do(ctx, c.authed, http.MethodGet, c.pagePath(path), nil, &page); err != nil {
		return nil, err
	}
	return page, nil
}

// OnlineUsers returns the users the server currently sees connected.
func (c *Client) OnlineUsers(ctx context.Context) ([]string, error) {
	var users []string
	if err := c.do(ctx, c.authed, http.MethodGet, "/api/users/online", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) pagePath(path string) string {
	if c.limit <= 0 {
		return path
	}
	q := url.Values{"limit": {strconv.Itoa(c.limit)}}
	return path + "?" + q.Encode()
}
