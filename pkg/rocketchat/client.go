// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package rocketchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// StatusSuccess is the value of the "status" field of a successful login.
	StatusSuccess = "success"

	HeaderAuthToken = "X-Auth-Token"
	HeaderUserID    = "X-User-Id"

	// DefaultTimeout bounds a single HTTP round trip of a new client.
	DefaultTimeout = 30 * time.Second

	maxResponseBodySize = 10 << 20
)

// Payload is a decoded JSON object returned by the server.
type Payload map[string]any

// Succeeded reports whether the payload carries a success marker, either the
// legacy "status": "success" or the v1 "success": true.
func (p Payload) Succeeded() bool {
	if status, ok := p["status"].(string); ok && status == StatusSuccess {
		return true
	}
	success, _ := p["success"].(bool)
	return success
}

// Client is an authenticated Rocket.Chat REST session.
//
// Credentials are guarded by a lock, so one client may be shared by
// concurrently running callers.
type Client struct {
	Endpoints  Endpoints
	HTTPClient *http.Client

	mu     sync.RWMutex
	header http.Header
	userID string

	log zerolog.Logger
}

// NewClient creates a client for the given server URL. It does not perform
// any request.
func NewClient(serverURL string, log zerolog.Logger) (*Client, error) {
	endpoints, err := ResolveEndpoints(serverURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		Endpoints:  endpoints,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
		log:        log.With().Str("component", "rc_client").Logger(),
	}, nil
}

// IsAuthenticated reports whether a login has succeeded on this client.
func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.header != nil
}

// UserID returns the Rocket.Chat user id of the logged in account, or an
// empty string before login.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

type loginResponse struct {
	Status string `json:"status"`
	Data   struct {
		AuthToken string `json:"authToken"`
		UserID    string `json:"userId"`
	} `json:"data"`
}

// Login authenticates with the given credentials. On success the returned
// token and user id replace any previously stored credentials; on failure the
// client is left unchanged.
func (c *Client) Login(ctx context.Context, user, password string) error {
	form := url.Values{"user": {user}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoints.Login, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, body, err := c.roundTrip(req)
	if err != nil {
		return err
	}

	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil || lr.Status != StatusSuccess {
		return &NotAuthenticatedError{
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	header := make(http.Header, 3)
	header.Set(HeaderAuthToken, lr.Data.AuthToken)
	header.Set(HeaderUserID, lr.Data.UserID)
	header.Set("Content-Type", "application/json")

	c.mu.Lock()
	c.header = header
	c.userID = lr.Data.UserID
	c.mu.Unlock()

	c.log.Info().Str("user", user).Str("user_id", lr.Data.UserID).Msg("Logged in to Rocket.Chat")
	return nil
}

// GetInfo returns the server info. The response status is not checked.
func (c *Client) GetInfo(ctx context.Context) (Payload, error) {
	return c.do(ctx, http.MethodGet, c.Endpoints.Info, nil, requestOptions{})
}

// GetRooms returns the channels the logged in user has joined.
func (c *Client) GetRooms(ctx context.Context) (Payload, error) {
	return c.do(ctx, http.MethodGet, c.Endpoints.JoinedRooms, nil, requestOptions{expected: http.StatusOK})
}

// JoinRoom joins the given room. Only the response status is checked.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	_, err := c.do(ctx, http.MethodPost, c.Endpoints.JoinRoom(roomID), nil, requestOptions{
		expected:    http.StatusOK,
		discardBody: true,
	})
	return err
}

// LeaveRoom leaves the given room. Only the response status is checked.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	_, err := c.do(ctx, http.MethodPost, c.Endpoints.LeaveRoom(roomID), nil, requestOptions{
		expected:    http.StatusOK,
		discardBody: true,
	})
	return err
}

// GetRoomMessages returns the message history of the given room.
func (c *Client) GetRoomMessages(ctx context.Context, roomID string) (Payload, error) {
	return c.do(ctx, http.MethodGet, c.Endpoints.RoomHistory(roomID), nil, requestOptions{expected: http.StatusOK})
}

type postMessageRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// SendMessage posts text to the given room or channel.
func (c *Client) SendMessage(ctx context.Context, roomID, text string) (Payload, error) {
	return c.do(ctx, http.MethodPost, c.Endpoints.PostMessage, postMessageRequest{
		Channel: roomID,
		Text:    text,
	}, requestOptions{expected: http.StatusOK})
}

// CreateChannel creates a public channel. Only the response status is
// checked.
func (c *Client) CreateChannel(ctx context.Context, name string) (Payload, error) {
	return c.do(ctx, http.MethodPost, c.Endpoints.CreateChannel, map[string]string{"name": name},
		requestOptions{expected: http.StatusOK})
}

type createUserRequest struct {
	Name         string            `json:"name"`
	Email        string            `json:"email"`
	Password     string            `json:"password"`
	Username     string            `json:"username"`
	CustomFields map[string]string `json:"customFields"`
}

// CreateUser creates a user account. customFields may be nil. Only the
// response status is checked.
func (c *Client) CreateUser(ctx context.Context, name, email, password, username string, customFields map[string]string) (Payload, error) {
	return c.do(ctx, http.MethodPost, c.Endpoints.CreateUser, createUserRequest{
		Name:         name,
		Email:        email,
		Password:     password,
		Username:     username,
		CustomFields: customFields,
	}, requestOptions{expected: http.StatusOK})
}

type updateUserRequest struct {
	UserID string         `json:"userId"`
	Data   updateUserData `json:"data"`
}

type updateUserData struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UpdateUser changes the name and email of a user. The response must report
// success in its JSON body.
//
// The request always carries an empty userId, copied from the upstream API
// documentation example. The server decides which user, if any, this
// applies to.
// TODO: take the target user id as a parameter once callers can supply one.
func (c *Client) UpdateUser(ctx context.Context, newName, newEmail string) (Payload, error) {
	return c.do(ctx, http.MethodPost, c.Endpoints.UpdateUser, updateUserRequest{
		UserID: "",
		Data:   updateUserData{Name: newName, Email: newEmail},
	}, requestOptions{expected: http.StatusOK, checkSuccess: true})
}

type requestOptions struct {
	// expected is the required status code; zero accepts any status.
	expected     int
	checkSuccess bool
	discardBody  bool
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, opts requestOptions) (Payload, error) {
	var reader io.Reader
	if method == http.MethodPost {
		if body == nil {
			body = struct{}{}
		}
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s body for %s: %w", method, endpoint, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request to %s: %w", method, endpoint, err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	for key, values := range c.header {
		req.Header[key] = append([]string(nil), values...)
	}
	c.mu.RUnlock()

	resp, respBody, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}

	if opts.expected != 0 && resp.StatusCode != opts.expected {
		return nil, &RequestFailedError{
			Method:     method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Expected:   opts.expected,
			Body:       string(respBody),
		}
	}
	if opts.discardBody {
		return nil, nil
	}

	var payload Payload
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, &RequestFailedError{
			Method:     method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Expected:   opts.expected,
			Body:       string(respBody),
			Reason:     "failed to decode response: " + err.Error(),
		}
	}
	if opts.checkSuccess && !payload.Succeeded() {
		return nil, &RequestFailedError{
			Method:     method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Expected:   opts.expected,
			Body:       string(respBody),
			Reason:     "response did not report success",
		}
	}
	return payload, nil
}

// roundTrip sends req and reads the whole response body.
func (c *Client) roundTrip(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s to %s failed: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s response from %s: %w", req.Method, req.URL, err)
	}
	c.log.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int("status_code", resp.StatusCode).
		Msg("Rocket.Chat request complete")
	return resp, body, nil
}
