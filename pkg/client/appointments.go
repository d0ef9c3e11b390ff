package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"appointments/pkg/model"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Message)
}

type Metadata struct {
	TotalCount int64 `json:"total_count"`
	Limit      int   `json:"limit"`
	Offset     int64 `json:"offset"`
}

// AppointmentsClient talks to the bookings service over its public API.
type AppointmentsClient struct {
	httpClient *HttpClient
}

func NewAppointmentsClient(baseURL string, timeout time.Duration) *AppointmentsClient {
	return &AppointmentsClient{
		httpClient: NewHttpClient(baseURL, timeout),
	}
}

func (c *AppointmentsClient) CreateSlots(ctx context.Context, req *model.CreateSlotsRequest) ([]*model.Slot, error) {
	var slots []*model.Slot
	if err := c.do(ctx, "POST", "/api/v1/slots", req, nil, &slots); err != nil {
		return nil, err
	}
	return slots, nil
}

func (c *AppointmentsClient) GetSlot(ctx context.Context, id string) (*model.Slot, error) {
	var slot model.Slot
	if err := c.do(ctx, "GET", "/api/v1/slots/id/"+url.PathEscape(id), nil, nil, &slot); err != nil {
		return nil, err
	}
	return &slot, nil
}

func (c *AppointmentsClient) AvailableSlots(ctx context.Context, consultantID string, from, to time.Time, limit int, offset int64) ([]*model.Slot, *Metadata, error) {
	q := url.Values{}
	q.Set("consultant_id", consultantID)
	if !from.IsZero() {
		q.Set("from", from.Format(time.RFC3339))
	}
	if !to.IsZero() {
		q.Set("to", to.Format(time.RFC3339))
	}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.FormatInt(offset, 10))

	resp, err := c.httpClient.GET(ctx, "/api/v1/slots/available?"+q.Encode())
	if err != nil {
		return nil, nil, err
	}
	if !resp.IsSuccess() {
		return nil, nil, decodeAPIError(resp)
	}

	var wrapper struct {
		Data []*model.Slot `json:"data"`
		Metadata
	}
	if err := resp.DecodeJSON(&wrapper); err != nil {
		return nil, nil, fmt.Errorf("could not decode paginated response: %w", err)
	}
	return wrapper.Data, &wrapper.Metadata, nil
}

// CreateBooking sends idempotencyKey, when set, so a retried request replays
// the first response instead of booking twice.
func (c *AppointmentsClient) CreateBooking(ctx context.Context, req *model.BookingRequest, idempotencyKey string) (*model.Booking, error) {
	var headers map[string]string
	if idempotencyKey != "" {
		headers = map[string]string{IdempotencyKeyHeader: idempotencyKey}
	}
	return c.booking(ctx, "POST", "/api/v1/bookings", req, headers)
}

func (c *AppointmentsClient) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	return c.booking(ctx, "GET", bookingPath(id, ""), nil, nil)
}

func (c *AppointmentsClient) ConfirmBooking(ctx context.Context, id string) (*model.Booking, error) {
	return c.booking(ctx, "POST", bookingPath(id, "confirm"), nil, nil)
}

func (c *AppointmentsClient) CancelBooking(ctx context.Context, id, reason string) (*model.Booking, error) {
	var body any
	if reason != "" {
		body = model.CancelRequest{Reason: reason}
	}
	return c.booking(ctx, "POST", bookingPath(id, "cancel"), body, nil)
}

func (c *AppointmentsClient) CompleteBooking(ctx context.Context, id string) (*model.Booking, error) {
	return c.booking(ctx, "POST", bookingPath(id, "complete"), nil, nil)
}

// RescheduleBooking returns the replacement booking.
func (c *AppointmentsClient) RescheduleBooking(ctx context.Context, id, slotID string) (*model.Booking, error) {
	return c.booking(ctx, "POST", bookingPath(id, "reschedule"), model.RescheduleRequest{SlotID: slotID}, nil)
}

func (c *AppointmentsClient) ListJobs(ctx context.Context) ([]model.JobRun, error) {
	var runs []model.JobRun
	if err := c.do(ctx, "GET", "/api/v1/jobs", nil, nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (c *AppointmentsClient) RunJob(ctx context.Context, name string) (*model.SweepSummary, error) {
	var summary model.SweepSummary
	if err := c.do(ctx, "POST", "/api/v1/jobs/"+url.PathEscape(name)+"/run", nil, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *AppointmentsClient) ReminderStats(ctx context.Context) (*model.ReminderStats, error) {
	var stats model.ReminderStats
	if err := c.do(ctx, "GET", "/api/v1/reminders/stats", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *AppointmentsClient) booking(ctx context.Context, method, path string, body any, headers map[string]string) (*model.Booking, error) {
	var booking model.Booking
	if err := c.do(ctx, method, path, body, headers, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

func (c *AppointmentsClient) do(ctx context.Context, method, path string, body any, headers map[string]string, target any) error {
	var (
		resp *Response
		err  error
	)
	if method == "GET" {
		resp, err = c.httpClient.GET(ctx, path)
	} else {
		resp, err = c.httpClient.POST(ctx, path, body, headers)
	}
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return decodeAPIError(resp)
	}

	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := resp.DecodeJSON(&wrapper); err != nil {
		return fmt.Errorf("could not decode response wrapper: %w", err)
	}
	if err := json.Unmarshal(wrapper.Data, target); err != nil {
		return fmt.Errorf("could not decode response data: %w", err)
	}
	return nil
}

func bookingPath(id, action string) string {
	path := "/api/v1/bookings/id/" + url.PathEscape(id)
	if action != "" {
		path += "/" + action
	}
	return path
}

func decodeAPIError(resp *Response) error {
	var body struct {
		Code string `json:"code"`
	}
	_ = resp.DecodeJSON(&body)
	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       body.Code,
		Message:    GetErrorMessage(resp),
	}
}
