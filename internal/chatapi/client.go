// Package chatapi is a thin client for the collaborator request/response
// API. The relay treats it as an opaque data source: stable identifiers in,
// member lists out.
package chatapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatpulse/internal/domain"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

type chatResponse struct {
	ID    domain.ChatID `json:"_id"`
	Users []struct {
		ID domain.UserID `json:"_id"`
	} `json:"users"`
}

// MembersOfChat resolves a chat id to its member user ids. Used as the
// brief external lookup before a message fan-out.
func (c *Client) MembersOfChat(ctx context.Context, chatID domain.ChatID) ([]domain.UserID, error) {
	endpoint := fmt.Sprintf("%s/api/chat/%s", c.baseURL, url.PathEscape(string(chatID)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch chat %s: %w", chatID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch chat %s: unexpected status %d", chatID, resp.StatusCode)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decode chat %s: %w", chatID, err)
	}

	members := make([]domain.UserID, 0, len(chat.Users))
	for _, u := range chat.Users {
		members = append(members, u.ID)
	}
	return members, nil
}
