package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loopworks/valet/config"
	"github.com/loopworks/valet/errors"
	"github.com/loopworks/valet/session"
)

const (
	trackerTimeout   = 15 * time.Second
	trackerBodyLimit = 1 << 20
)

// LookupTicketTool fetches a ticket from the configured issue tracker.
// Requests are authorized with the tracker token of the session that issued
// them, so the tool only works when a session is present in the context.
type LookupTicketTool struct {
	tracker *config.Tracker
}

func (t *LookupTicketTool) Name() string { return "lookup_ticket" }
func (t *LookupTicketTool) Description() string {
	return "Looks up a ticket in the issue tracker by id. Args: id (string)."
}

func (t *LookupTicketTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "string",
				"description": "Ticket id, e.g. 'VAL-42'.",
			},
		},
		"required": []string{"id"},
	}
}

func (t *LookupTicketTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	id, ok := args["id"].(string)
	if !ok || id == "" {
		return "", errors.New("missing or invalid 'id' argument")
	}
	if t.tracker.BaseURL == "" {
		return "", errors.New("no tracker configured: set tracker.base_url")
	}

	sess, err := session.FromContext(ctx)
	if err != nil {
		return "", err
	}
	token, ok := sess.Credential("tracker")
	if !ok {
		return "", errors.New("session has no tracker credential")
	}
	client := sess.CachedClient("tracker-http", func() any {
		return &http.Client{Timeout: trackerTimeout}
	}).(*http.Client)

	endpoint := strings.TrimRight(t.tracker.BaseURL, "/") + "/tickets/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", errors.Wrapf(err, "failed to build tracker request for '%s'", id)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "tracker request for '%s' failed", id)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, trackerBodyLimit))
	if err != nil {
		return "", errors.Wrapf(err, "failed to read tracker response for '%s'", id)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return string(body), nil
	case http.StatusNotFound:
		return fmt.Sprintf("Ticket %s not found.", id), nil
	default:
		return "", errors.New("tracker returned status %d for '%s': %s",
			resp.StatusCode, id, strings.TrimSpace(string(body)))
	}
}
