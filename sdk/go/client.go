package opslinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Opsline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// WorkItem represents the API work item model (partial).
type WorkItem struct {
	ID             string  `json:"id"`
	Module         string  `json:"module"`
	Type           string  `json:"type"`
	Title          string  `json:"title"`
	Status         string  `json:"status"`
	EvidenceStatus string  `json:"evidence_status"`
	NGOID          *string `json:"ngo_id,omitempty"`
	OwnerUserID    *string `json:"owner_user_id,omitempty"`
	DueDate        *string `json:"due_date,omitempty"`
}

// Document represents an evidence entry.
type Document struct {
	ID           string  `json:"id"`
	WorkItemID   string  `json:"work_item_id"`
	FileName     string  `json:"file_name"`
	ReviewStatus string  `json:"review_status"`
	ReviewedAt   *string `json:"reviewed_at,omitempty"`
}

// Reminder represents a scheduled nudge.
type Reminder struct {
	ID         string  `json:"id"`
	WorkItemID string  `json:"work_item_id"`
	UserID     string  `json:"user_id"`
	RemindAt   string  `json:"remind_at"`
	Channel    string  `json:"channel"`
	Status     string  `json:"status"`
	SeenAt     *string `json:"seen_at,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// DueWindow is one horizon of the metrics snapshot.
type DueWindow struct {
	Days  int `json:"days"`
	Count int `json:"count"`
}

// Snapshot is the aggregated metrics report.
type Snapshot struct {
	GeneratedAt     string         `json:"generated_at"`
	DueWindows      []DueWindow    `json:"due_windows"`
	Overdue         int            `json:"overdue"`
	EvidencePending int            `json:"evidence_pending"`
	AtRiskNGOs      int            `json:"at_risk_ngos"`
	ByStatus        map[string]int `json:"by_status"`
}

// BulkResult reports one item's outcome from a bulk request.
type BulkResult struct {
	ID      string `json:"id"`
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedWorkItems wraps list responses with cursors.
type PaginatedWorkItems struct {
	Items      []WorkItem `json:"items"`
	NextCursor string     `json:"next_cursor"`
}

// CreateWorkItem creates a work item.
func (c *Client) CreateWorkItem(ctx context.Context, module, itemType, title string, extra map[string]any) (WorkItem, error) {
	body := map[string]any{
		"module": module,
		"type":   itemType,
		"title":  title,
	}
	for k, v := range extra {
		body[k] = v
	}
	var resp WorkItem
	err := c.do(ctx, http.MethodPost, "v0/work-items", body, &resp)
	return resp, err
}

// GetWorkItem fetches a work item by id.
func (c *Client) GetWorkItem(ctx context.Context, id string) (WorkItem, error) {
	var resp WorkItem
	err := c.do(ctx, http.MethodGet, "v0/work-items/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListWorkItems returns a page of work items matching the query values.
func (c *Client) ListWorkItems(ctx context.Context, query url.Values) (PaginatedWorkItems, error) {
	endpoint := "v0/work-items"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var resp PaginatedWorkItems
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Transition moves a work item to a target status.
func (c *Client) Transition(ctx context.Context, id, status string) (WorkItem, error) {
	var resp WorkItem
	endpoint := fmt.Sprintf("v0/work-items/%s/transition", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// RecordApproval records an approval decision on a work item.
func (c *Client) RecordApproval(ctx context.Context, id, decision string) (WorkItem, error) {
	var resp WorkItem
	endpoint := fmt.Sprintf("v0/work-items/%s/approval", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"decision": decision}, &resp)
	return resp, err
}

// Bulk applies an operation across many work items.
func (c *Client) Bulk(ctx context.Context, ids []string, op string, params map[string]any) ([]BulkResult, error) {
	body := map[string]any{
		"ids": ids,
		"op":  op,
	}
	for k, v := range params {
		body[k] = v
	}
	var resp []BulkResult
	err := c.do(ctx, http.MethodPost, "v0/work-items/bulk", body, &resp)
	return resp, err
}

// AttachDocument attaches an evidence document to a work item.
func (c *Client) AttachDocument(ctx context.Context, workItemID, fileName, filePath string, extra map[string]any) (Document, error) {
	body := map[string]any{
		"file_name": fileName,
		"file_path": filePath,
	}
	for k, v := range extra {
		body[k] = v
	}
	var resp Document
	endpoint := fmt.Sprintf("v0/work-items/%s/documents", url.PathEscape(workItemID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ReviewDocument records a review decision for a document.
func (c *Client) ReviewDocument(ctx context.Context, documentID, decision, notes string) (Document, error) {
	body := map[string]any{
		"decision": decision,
		"notes":    notes,
	}
	var resp Document
	endpoint := fmt.Sprintf("v0/documents/%s/review", url.PathEscape(documentID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ScheduleReminder schedules a reminder on a work item.
func (c *Client) ScheduleReminder(ctx context.Context, workItemID, userID, remindAt, channel string) (Reminder, error) {
	body := map[string]any{
		"user_id":   userID,
		"remind_at": remindAt,
	}
	if channel != "" {
		body["channel"] = channel
	}
	var resp Reminder
	endpoint := fmt.Sprintf("v0/work-items/%s/reminders", url.PathEscape(workItemID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// UpcomingReminders returns reminders due within the window.
func (c *Client) UpcomingReminders(ctx context.Context, userID string, withinHours int) ([]Reminder, error) {
	endpoint := "v0/reminders/upcoming"
	q := url.Values{}
	if userID != "" {
		q.Set("user_id", userID)
	}
	if withinHours > 0 {
		q.Set("within_hours", fmt.Sprintf("%d", withinHours))
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Reminder
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MarkReminderSeen acknowledges a reminder.
func (c *Client) MarkReminderSeen(ctx context.Context, reminderID string) (Reminder, error) {
	var resp Reminder
	endpoint := fmt.Sprintf("v0/reminders/%s/seen", url.PathEscape(reminderID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// MetricsSnapshot returns the aggregated report for the given scope query.
func (c *Client) MetricsSnapshot(ctx context.Context, query url.Values) (Snapshot, error) {
	endpoint := "v0/metrics/snapshot"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var resp Snapshot
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
