// Package backend is the HTTP client for the meeting records service that
// stores meetings, participants and uploaded recordings.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Meeting statuses understood by the records service.
const (
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusError      = "ERROR"
)

type Client struct {
	baseURL       string
	httpClient    *http.Client
	uploadTimeout time.Duration
	log           *slog.Logger
}

// New creates a client. timeout bounds ordinary requests; uploadTimeout
// bounds recording uploads.
func New(baseURL string, timeout, uploadTimeout time.Duration, log *slog.Logger) *Client {
	log.Debug("creating backend client",
		slog.String("base_url", baseURL),
		slog.Duration("timeout", timeout))
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: timeout},
		uploadTimeout: uploadTimeout,
		log:           log,
	}
}

type createMeetingRequest struct {
	GuildID     string    `json:"guildId"`
	ChannelID   string    `json:"channelId"`
	ChannelName string    `json:"channelName"`
	StartedAt   time.Time `json:"startedAt"`
}

type addParticipantRequest struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
}

type updateParticipantRequest struct {
	LeftAt time.Time `json:"leftAt"`
}

// StatusUpdate changes a meeting record. Nil fields are left untouched.
type StatusUpdate struct {
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds *int       `json:"duration,omitempty"`
	Status          string     `json:"status,omitempty"`
}

// MeetingRef is the subset of a meeting record the recorder reads back.
type MeetingRef struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// PendingReport lists meetings the records service considers unfinished.
type PendingReport struct {
	StaleMeetings       []MeetingRef `json:"staleMeetings"`
	UnprocessedMeetings []MeetingRef `json:"unprocessedMeetings"`
	TotalPending        int          `json:"totalPending"`
}

// CreateMeeting creates the meeting record and returns its id.
func (c *Client) CreateMeeting(ctx context.Context, roomID, channelID, channelName string) (string, error) {
	c.log.Info("creating meeting record",
		slog.String("room_id", roomID),
		slog.String("channel_id", channelID))

	var out MeetingRef
	err := c.doJSON(ctx, http.MethodPost, "/api/meetings", createMeetingRequest{
		GuildID:     roomID,
		ChannelID:   channelID,
		ChannelName: channelName,
		StartedAt:   time.Now().UTC(),
	}, &out)
	if err != nil {
		return "", fmt.Errorf("create meeting: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("create meeting: response has no id")
	}
	return out.ID, nil
}

// RegisterParticipant records that a participant joined at joinedAt.
func (c *Client) RegisterParticipant(ctx context.Context, meetingID, participantID, displayName string, joinedAt time.Time) error {
	err := c.doJSON(ctx, http.MethodPost, "/api/meetings/"+url.PathEscape(meetingID)+"/participants",
		addParticipantRequest{UserID: participantID, Username: displayName, JoinedAt: joinedAt.UTC()}, nil)
	if err != nil {
		return fmt.Errorf("register participant: %w", err)
	}
	return nil
}

func (c *Client) MarkParticipantLeft(ctx context.Context, meetingID, participantID string, leftAt time.Time) error {
	path := "/api/meetings/" + url.PathEscape(meetingID) + "/participants/" + url.PathEscape(participantID)
	if err := c.doJSON(ctx, http.MethodPut, path, updateParticipantRequest{LeftAt: leftAt.UTC()}, nil); err != nil {
		return fmt.Errorf("mark participant left: %w", err)
	}
	return nil
}

func (c *Client) UpdateMeetingStatus(ctx context.Context, meetingID string, u StatusUpdate) error {
	if err := c.doJSON(ctx, http.MethodPut, "/api/meetings/"+url.PathEscape(meetingID), u, nil); err != nil {
		return fmt.Errorf("update meeting status: %w", err)
	}
	return nil
}

// UploadRecording posts one output file as multipart form data.
func (c *Client) UploadRecording(ctx context.Context, meetingID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.WriteField("meetingId", meetingID)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/recordings", pr)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	// Uploads have their own deadline, so the short client timeout does not apply.
	uploader := &http.Client{Transport: c.httpClient.Transport}
	resp, err := uploader.Do(req)
	if err != nil {
		return fmt.Errorf("upload recording: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("upload recording: %w", err)
	}
	c.log.Info("recording uploaded",
		slog.String("meeting_id", meetingID),
		slog.String("path", path))
	return nil
}

// CheckPending asks the records service for meetings left unfinished.
func (c *Client) CheckPending(ctx context.Context) (*PendingReport, error) {
	var out PendingReport
	if err := c.doJSON(ctx, http.MethodGet, "/api/meetings/check-pending", nil, &out); err != nil {
		return nil, fmt.Errorf("check pending: %w", err)
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	c.log.Debug("backend request", slog.String("method", method), slog.String("path", path))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ResponseError is a non-2xx response from the records service.
type ResponseError struct {
	Code int
	Body string
}

func (e *ResponseError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned %d", e.Code)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &ResponseError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
