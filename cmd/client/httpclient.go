package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Tyrowin/gochat/internal/api"
)

// apiClient talks to the account and room endpoints.
type apiClient struct {
	base  string
	http  *http.Client
	token string
}

type roomView struct {
	ID      string   `json:"id"`
	Members []string `json:"members"`
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) register(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	return c.do(ctx, http.MethodPost, "/users", body, nil)
}

func (c *apiClient) login(ctx context.Context, username, password string) (time.Time, error) {
	var resp struct {
		Token   string `json:"token"`
		Expires int64  `json:"expires"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/login", body, &resp); err != nil {
		return time.Time{}, err
	}
	c.token = resp.Token
	return time.UnixMilli(resp.Expires), nil
}

func (c *apiClient) rooms(ctx context.Context) ([]roomView, error) {
	var rooms []roomView
	err := c.do(ctx, http.MethodGet, "/rooms", nil, &rooms)
	return rooms, err
}

func (c *apiClient) createRoom(ctx context.Context, members []string) (roomView, error) {
	refs := make([]map[string]string, len(members))
	for i, id := range members {
		refs[i] = map[string]string{"id": id}
	}
	var room roomView
	err := c.do(ctx, http.MethodPost, "/rooms", map[string]any{"members": refs}, &room)
	return room, err
}

func (c *apiClient) leaveRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPut, "/rooms/exit", map[string]string{"roomId": roomID}, nil)
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || len(e.Errors) == 0 {
			return fmt.Errorf("%s %s: %s", method, path, resp.Status)
		}
		return errors.New(e.Errors[0].ErrorMessage)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
