// Package crm mirrors confirmed bookings into GoHighLevel (LeadConnector).
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking-engine/pkg/logging"
)

const (
	// DefaultBaseURL is the public LeadConnector API.
	DefaultBaseURL = "https://services.leadconnectorhq.com"

	contactsVersion  = "2021-07-28"
	calendarsVersion = "2021-04-15"
	defaultTimeout   = 15 * time.Second

	appointmentTitle = "Cita Médica"
)

// ErrNoAssignee means the calendar has no team member to own the appointment.
var ErrNoAssignee = errors.New("crm: calendar has no team members")

// CustomField is one contact custom field update.
type CustomField struct {
	Key        string `json:"key"`
	FieldValue string `json:"field_value"`
}

// Calendar is the subset of a GHL calendar the dispatcher needs.
type Calendar struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	TeamMembers []TeamMember `json:"teamMembers"`
}

// TeamMember is a calendar assignee.
type TeamMember struct {
	UserID string `json:"userId"`
}

// AppointmentInput is the body of a GHL calendar appointment.
type AppointmentInput struct {
	Title                    string `json:"title"`
	OverrideLocationConfig   bool   `json:"overrideLocationConfig"`
	AppointmentStatus        string `json:"appointmentStatus"`
	IgnoreDateRange          bool   `json:"ignoreDateRange"`
	IgnoreFreeSlotValidation bool   `json:"ignoreFreeSlotValidation"`
	CalendarID               string `json:"calendarId"`
	LocationID               string `json:"locationId"`
	AssignedUserID           string `json:"assignedUserId"`
	ContactID                string `json:"contactId"`
	StartTime                string `json:"startTime"`
	EndTime                  string `json:"endTime"`
}

// CreatedAppointment is GHL's answer to an appointment creation.
type CreatedAppointment struct {
	ID     string `json:"id"`
	Status string `json:"appointmentStatus"`
}

// ClientConfig configures the GHL client.
type ClientConfig struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      *logging.Logger
}

// Client talks to the LeadConnector REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient builds a GHL client. An empty BaseURL uses DefaultBaseURL.
func NewClient(cfg ClientConfig) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{baseURL: base, token: cfg.AccessToken, httpClient: httpClient, logger: logger}
}

// UpdateContactCustomFields writes custom fields on a contact.
func (c *Client) UpdateContactCustomFields(ctx context.Context, contactID string, fields []CustomField) error {
	if strings.TrimSpace(contactID) == "" {
		return fmt.Errorf("crm: contact id is required")
	}
	body := map[string]any{"customFields": fields}
	return c.do(ctx, http.MethodPut, "/contacts/"+url.PathEscape(contactID), contactsVersion, body, []int{http.StatusOK}, nil)
}

// GetCalendar fetches a calendar with its team members.
func (c *Client) GetCalendar(ctx context.Context, calendarID string) (*Calendar, error) {
	var out struct {
		Calendar Calendar `json:"calendar"`
	}
	if err := c.do(ctx, http.MethodGet, "/calendars/"+url.PathEscape(calendarID), calendarsVersion, nil, []int{http.StatusOK}, &out); err != nil {
		return nil, err
	}
	return &out.Calendar, nil
}

// CreateAppointment books the appointment on a GHL calendar.
func (c *Client) CreateAppointment(ctx context.Context, in AppointmentInput) (*CreatedAppointment, error) {
	var out CreatedAppointment
	if err := c.do(ctx, http.MethodPost, "/calendars/events/appointments", calendarsVersion, in, []int{http.StatusCreated, http.StatusOK}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// APIError is a non-success answer from GHL.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crm: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (c *Client) do(ctx context.Context, method, path, version string, body any, accept []int, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("crm: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("crm: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Version", version)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("crm: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("crm: read %s %s: %w", method, path, err)
	}

	ok := false
	for _, code := range accept {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		snippet := string(raw)
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		c.logger.Warn("crm: unexpected status", "method", method, "path", path, "status", resp.StatusCode)
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: snippet}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("crm: decode %s %s: %w", method, path, err)
	}
	return nil
}
