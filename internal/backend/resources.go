package backend

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
)

func (c *Client) Weather(ctx context.Context) (*Weather, error) {
	var out Weather
	if err := c.do(ctx, call{method: http.MethodGet, path: "weather/current", anonymous: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Events(ctx context.Context) (EventList, error) {
	var out EventList
	if err := c.getJSON(ctx, "calendar/events", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateEvent(ctx context.Context, draft EventDraft) error {
	if err := draft.Validate(); err != nil {
		return err
	}
	return c.sendJSON(ctx, http.MethodPost, "calendar/events", draft, nil)
}

func (c *Client) Meals(ctx context.Context) (MealPlan, error) {
	var out MealPlan
	if err := c.getJSON(ctx, "meals/", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadMenu sends a menu document and returns the full replaced plan.
func (c *Client) UploadMenu(ctx context.Context, filename string, content io.Reader) (MealPlan, error) {
	var out menuUpload
	if err := c.upload(ctx, "meals/upload", filename, content, &out); err != nil {
		return nil, err
	}
	return out.FullPlanning, nil
}

func (c *Client) BudgetStats(ctx context.Context) (*BudgetStats, error) {
	var out BudgetStats
	if err := c.getJSON(ctx, "budget/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Expenses(ctx context.Context) (ExpenseList, error) {
	var out ExpenseList
	if err := c.getJSON(ctx, "budget/", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadReceipt sends a receipt and returns the expense the backend recorded.
func (c *Client) UploadReceipt(ctx context.Context, filename string, content io.Reader) (*Expense, error) {
	var out receiptUpload
	if err := c.upload(ctx, "budget/upload", filename, content, &out); err != nil {
		return nil, err
	}
	return out.Expense, nil
}

func (c *Client) DeleteExpense(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodDelete, "budget/expenses/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ImportantEmails(ctx context.Context) (EmailList, error) {
	var out EmailList
	if err := c.getJSON(ctx, "gmail/important", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Settings(ctx context.Context) (*Settings, error) {
	var out Settings
	if err := c.getJSON(ctx, "settings/", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SaveSettings(ctx context.Context, settings Settings) error {
	return c.sendJSON(ctx, http.MethodPost, "settings/", settings, nil)
}

func (c *Client) TestTraffic(ctx context.Context) (*TrafficReport, error) {
	var out TrafficReport
	if err := c.sendJSON(ctx, http.MethodPost, "settings/test-traffic", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Devices(ctx context.Context) (DeviceList, error) {
	var out DeviceList
	if err := c.getJSON(ctx, "tuya/devices", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SyncDevices asks the backend to re-import the roster from the platform.
func (c *Client) SyncDevices(ctx context.Context, creds Credentials) (DeviceList, error) {
	var out DeviceList
	if err := c.sendJSON(ctx, http.MethodPost, "tuya/sync", creds, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeviceCredentials(ctx context.Context) (*Credentials, error) {
	var out Credentials
	if err := c.getJSON(ctx, "tuya/credentials", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateLinkage persists a device's briefing set and returns the device as
// the backend stored it.
func (c *Client) UpdateLinkage(ctx context.Context, deviceID string, update LinkageUpdate) (*Device, error) {
	if update.BriefingIDs == nil {
		update.BriefingIDs = []string{}
	}
	var out Device
	path := "tuya/device/" + url.PathEscape(deviceID) + "/settings"
	if err := c.sendJSON(ctx, http.MethodPost, path, update, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SendCommand(ctx context.Context, deviceID, action string) (*CommandResult, error) {
	var out CommandResult
	path := "tuya/device/" + url.PathEscape(deviceID) + "/command"
	if err := c.sendJSON(ctx, http.MethodPost, path, map[string]string{"action": action}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UploadDocument(ctx context.Context, filename string, content io.Reader) (*DocumentUpload, error) {
	var out DocumentUpload
	if err := c.upload(ctx, "documents/upload", filename, content, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Notes(ctx context.Context) (NoteList, error) {
	var out NoteList
	if err := c.getJSON(ctx, "notes/", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateNote(ctx context.Context, content, author string) (*Note, error) {
	if strings.TrimSpace(author) == "" {
		author = DefaultAuthor
	}
	var out Note
	if err := c.sendJSON(ctx, http.MethodPost, "notes/", Note{Content: content, Author: author}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateNote(ctx context.Context, note Note) (*Note, error) {
	var out Note
	if err := c.sendJSON(ctx, http.MethodPut, "notes/"+url.PathEscape(note.ID), note, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteNote(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodDelete, "notes/"+url.PathEscape(id), nil, nil)
}

func (c *Client) AuthStatus(ctx context.Context) (*AuthStatus, error) {
	var out AuthStatus
	if err := c.getJSON(ctx, "auth/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges a username and password for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	var out LoginToken
	err := c.do(ctx, call{
		method:      http.MethodPost,
		path:        "auth/login",
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
		anonymous:   true,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

// Briefing fetches the rendered narration for one briefing configuration.
// It is issued exactly once regardless of the client's read policy.
func (c *Client) Briefing(ctx context.Context, briefingID string) (*Narration, error) {
	query := url.Values{}
	if briefingID != "" {
		query.Set("briefing_id", briefingID)
	}
	policy := NeverRetry
	var out Narration
	if err := c.do(ctx, call{method: http.MethodGet, path: "briefing", query: query, policy: &policy}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveURL turns a backend-relative reference (such as an audio_url) into
// an absolute URL.
func (c *Client) ResolveURL(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return ref
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(rel).String()
}
