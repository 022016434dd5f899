// Package gateway talks to a portal gateway: a sidecar that drives the
// enrollment and housing pages and exposes them as JSON over HTTP.
package gateway

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

	"go.uber.org/zap"

	"github.com/noah-isme/spire-automator/internal/models"
	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
)

const termHeader = "X-Portal-Term"

// RequestObserver receives one call per gateway round trip. Status is 0 when no
// response was received.
type RequestObserver func(method, route string, status int, elapsed time.Duration)

// Config describes how to reach the gateway.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Term     string
	Timeout  time.Duration
}

// Client implements engine.Portal over the gateway API.
type Client struct {
	base     *url.URL
	cfg      Config
	http     *http.Client
	logger   *zap.Logger
	observer RequestObserver
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRequestObserver records every round trip, typically into metrics.
func WithRequestObserver(observer RequestObserver) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// New constructs a gateway client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "portal base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid portal base URL %q", cfg.BaseURL))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		base:   base,
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type lectureDTO struct {
	ID                   string              `json:"id"`
	Name                 string              `json:"name"`
	Description          string              `json:"description"`
	Discussions          []models.Discussion `json:"discussions"`
	EnrolledDiscussionID string              `json:"enrolled_discussion_id,omitempty"`
}

type lecturesResponse struct {
	Lectures *[]lectureDTO `json:"lectures"`
}

type seatResponse struct {
	Status string `json:"status"`
}

type confirmResponse struct {
	Confirmed *bool  `json:"confirmed"`
	Message   string `json:"message,omitempty"`
}

type roomsResponse struct {
	Rooms *[]models.Room `json:"rooms"`
}

type enrollRequest struct {
	LectureID     string `json:"lecture_id"`
	DiscussionID  string `json:"discussion_id,omitempty"`
	DropLectureID string `json:"drop_lecture_id,omitempty"`
}

// CurrentSchedule reads the enrolled lectures.
func (c *Client) CurrentSchedule(ctx context.Context) (map[string]models.Lecture, error) {
	return c.lectures(ctx, "/schedule")
}

// ShoppingCart reads the lectures waiting in the cart.
func (c *Client) ShoppingCart(ctx context.Context) (map[string]models.Lecture, error) {
	return c.lectures(ctx, "/cart")
}

// SectionStatus reads the seat availability of one section.
func (c *Client) SectionStatus(ctx context.Context, sectionID string) (models.SeatStatus, error) {
	var resp seatResponse
	if err := c.do(ctx, http.MethodGet, "/sections/"+url.PathEscape(sectionID)+"/status", nil, &resp); err != nil {
		return models.SeatUnknown, err
	}
	status := models.ParseSeatStatus(resp.Status)
	if status == models.SeatUnknown && resp.Status != "" && !strings.EqualFold(resp.Status, string(models.SeatUnknown)) {
		c.logger.Debug("unrecognised seat status", zap.String("section", sectionID), zap.String("status", resp.Status))
	}
	return status, nil
}

// Add enrolls into a lecture and discussion.
func (c *Client) Add(ctx context.Context, lecture models.Lecture, discussion *models.Discussion) (bool, error) {
	body := enrollRequest{LectureID: lecture.ID}
	if discussion != nil {
		body.DiscussionID = discussion.ID
	}
	return c.confirm(ctx, "/enrollment/add", body)
}

// Drop removes a lecture from the schedule.
func (c *Client) Drop(ctx context.Context, lecture models.Lecture) (bool, error) {
	return c.confirm(ctx, "/enrollment/drop", enrollRequest{LectureID: lecture.ID})
}

// Edit switches the enrolled discussion of a lecture.
func (c *Client) Edit(ctx context.Context, lecture models.Lecture, discussion models.Discussion) (bool, error) {
	return c.confirm(ctx, "/enrollment/edit", enrollRequest{LectureID: lecture.ID, DiscussionID: discussion.ID})
}

// Swap asks the gateway for the portal's single-step swap.
func (c *Client) Swap(ctx context.Context, drop, add models.Lecture, discussion *models.Discussion) (bool, error) {
	body := enrollRequest{LectureID: add.ID, DropLectureID: drop.ID}
	if discussion != nil {
		body.DiscussionID = discussion.ID
	}
	return c.confirm(ctx, "/enrollment/swap", body)
}

// SearchRooms submits a room search and returns the result rows.
func (c *Client) SearchRooms(ctx context.Context, criteria models.RoomSearch) ([]models.Room, error) {
	var resp roomsResponse
	if err := c.do(ctx, http.MethodPost, "/housing/search", criteria, &resp); err != nil {
		return nil, err
	}
	if resp.Rooms == nil {
		return nil, appErrors.Clone(appErrors.ErrPortalUnrecognized, "housing search response has no rooms list")
	}
	return *resp.Rooms, nil
}

// Assign requests a room assignment.
func (c *Client) Assign(ctx context.Context, room models.Room) (bool, error) {
	return c.confirm(ctx, "/housing/assign", room)
}

func (c *Client) lectures(ctx context.Context, route string) (map[string]models.Lecture, error) {
	var resp lecturesResponse
	if err := c.do(ctx, http.MethodGet, route, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Lectures == nil {
		return nil, appErrors.Clone(appErrors.ErrPortalUnrecognized, route+" response has no lectures list")
	}
	out := make(map[string]models.Lecture, len(*resp.Lectures))
	for _, dto := range *resp.Lectures {
		if dto.ID == "" {
			return nil, appErrors.Clone(appErrors.ErrPortalUnrecognized, route+" returned a lecture without id")
		}
		lecture := models.NewLecture(dto.ID, dto.Name, dto.Description)
		lecture.AddDiscussions(dto.Discussions...)
		if dto.EnrolledDiscussionID != "" {
			d, ok := lecture.Discussion(dto.EnrolledDiscussionID)
			if !ok {
				d = models.Discussion{ID: dto.EnrolledDiscussionID}
			}
			lecture.Enrolled = &d
		}
		out[lecture.ID] = lecture
	}
	return out, nil
}

func (c *Client) confirm(ctx context.Context, route string, body interface{}) (bool, error) {
	var resp confirmResponse
	if err := c.do(ctx, http.MethodPost, route, body, &resp); err != nil {
		return false, err
	}
	if resp.Confirmed == nil {
		c.logger.Warn("portal response has no confirmation, treating as not confirmed", zap.String("route", route))
		return false, nil
	}
	if !*resp.Confirmed && resp.Message != "" {
		c.logger.Info("portal declined request", zap.String("route", route), zap.String("message", resp.Message))
	}
	return *resp.Confirmed, nil
}

func (c *Client) do(ctx context.Context, method, route string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode gateway request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+route, reader)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create gateway request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	if c.cfg.Term != "" {
		req.Header.Set(termHeader, c.cfg.Term)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.observe(method, route, 0, elapsed)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return appErrors.Transient(err, fmt.Sprintf("gateway %s %s failed", method, route))
	}
	defer resp.Body.Close()
	c.observe(method, route, resp.StatusCode, elapsed)

	if err := classifyStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return appErrors.Transient(err, fmt.Sprintf("gateway %s %s response truncated", method, route))
		}
		return appErrors.Wrap(err, appErrors.ErrPortalUnrecognized.Code, appErrors.ErrPortalUnrecognized.Status,
			fmt.Sprintf("failed to decode gateway %s response", route))
	}
	return nil
}

func (c *Client) observe(method, route string, status int, elapsed time.Duration) {
	if c.observer != nil {
		c.observer(method, routeLabel(route), status, elapsed)
	}
}

// routeLabel collapses per-section routes so metric labels stay bounded.
func routeLabel(route string) string {
	if strings.HasPrefix(route, "/sections/") {
		return "/sections/:id/status"
	}
	return route
}

func classifyStatus(resp *http.Response) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("gateway returned status %d", code)
	if text := strings.TrimSpace(string(snippet)); text != "" {
		msg += ": " + text
	}

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return appErrors.Clone(appErrors.ErrAuthLost, msg)
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return appErrors.Clone(appErrors.ErrPortalTransient, msg)
	default:
		return appErrors.Clone(appErrors.ErrPortalUnrecognized, msg)
	}
}
