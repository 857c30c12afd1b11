// Package protocol talks to the work coordinator: fetching matrix pairs,
// submitting products, and the startup version gate.
package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/haormj/daitcore/matrix"
)

const (
	DefaultBaseURL = "https://miningpool.dait.dev"

	fetchPath   = "/GetMatrix.ashx"
	submitPath  = "/SubmitResult.ashx"
	versionPath = "/GetLatestVersion.ashx"

	// maxBody bounds a response read; two 5000x5000 matrices in JSON fit.
	maxBody = 1 << 30
)

var (
	ErrFetchFailed  = errors.New("protocol: fetch failed")
	ErrSubmitFailed = errors.New("protocol: submit failed")
)

type Config struct {
	BaseURL string
	Timeout time.Duration

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Dims are the requested operand shapes: A is AX x AY, B is BX x BY.
type Dims struct {
	AX, AY int
	BX, BY int
}

func (d Dims) Validate() error {
	if d.AX < 0 || d.AY < 0 || d.BX < 0 || d.BY < 0 {
		return fmt.Errorf("protocol: negative dimensions %+v", d)
	}

	return nil
}

// Assignment is one unit of work. An empty TaskID means the coordinator had
// nothing to hand out.
type Assignment struct {
	TaskID string
	A      matrix.Matrix
	B      matrix.Matrix
}

func (a Assignment) Empty() bool {
	return a.TaskID == ""
}

// Ack is the coordinator's free-form reply to a submission.
type Ack struct {
	Status int
	Body   string
}

type fetchResponse struct {
	TaskID string    `json:"taskId"`
	A      []float32 `json:"a"`
	B      []float32 `json:"b"`
}

type submitRequest struct {
	TaskID string    `json:"taskId"`
	Result []float32 `json:"result"`
}

// Client is created once per process and reused for every cycle.
type Client struct {
	base *url.URL
	http *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	raw := cfg.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}

	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("protocol: invalid base url %q: %w", raw, err)
	}

	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("protocol: unsupported scheme in %q", raw)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{base: base, http: hc}, nil
}

// Close drops idle keep-alive connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()

	return nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = query.Encode()

	return u.String()
}

// FetchAssignment asks the coordinator for a matrix pair of the given shape.
// Every failure, including a payload that does not match dims, wraps
// ErrFetchFailed.
func (c *Client) FetchAssignment(ctx context.Context, identity string, dims Dims) (Assignment, error) {
	if err := dims.Validate(); err != nil {
		return Assignment{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	query := url.Values{}
	query.Set("ax", strconv.Itoa(dims.AX))
	query.Set("ay", strconv.Itoa(dims.AY))
	query.Set("bx", strconv.Itoa(dims.BX))
	query.Set("by", strconv.Itoa(dims.BY))
	query.Set("pubKey", identity)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(fetchPath, query), nil)
	if err != nil {
		return Assignment{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Assignment{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return Assignment{}, fmt.Errorf("%w: status %s", ErrFetchFailed, resp.Status)
	}

	var body fetchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&body); err != nil {
		return Assignment{}, fmt.Errorf("%w: decode response: %w", ErrFetchFailed, err)
	}

	if body.TaskID == "" {
		return Assignment{}, nil
	}

	a, err := matrix.FromFlat(body.A, dims.AX, dims.AY)
	if err != nil {
		return Assignment{}, fmt.Errorf("%w: task %s: matrix a: %w", ErrFetchFailed, body.TaskID, err)
	}

	b, err := matrix.FromFlat(body.B, dims.BX, dims.BY)
	if err != nil {
		return Assignment{}, fmt.Errorf("%w: task %s: matrix b: %w", ErrFetchFailed, body.TaskID, err)
	}

	return Assignment{TaskID: body.TaskID, A: a, B: b}, nil
}

// SubmitResult posts the row-major product for taskID. Failures wrap
// ErrSubmitFailed; nothing is retried.
func (c *Client) SubmitResult(ctx context.Context, taskID string, result matrix.Matrix, identity string) (Ack, error) {
	payload, err := json.Marshal(submitRequest{TaskID: taskID, Result: result.Flat()})
	if err != nil {
		return Ack{}, fmt.Errorf("%w: encode result: %w", ErrSubmitFailed, err)
	}

	query := url.Values{}
	query.Set("pubKey", identity)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(submitPath, query), bytes.NewReader(payload))
	if err != nil {
		return Ack{}, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return Ack{}, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Ack{Status: resp.StatusCode}, fmt.Errorf("%w: read response: %w", ErrSubmitFailed, err)
	}

	ack := Ack{Status: resp.StatusCode, Body: string(text)}

	if resp.StatusCode/100 != 2 {
		return ack, fmt.Errorf("%w: status %s: %s", ErrSubmitFailed, resp.Status, strings.TrimSpace(ack.Body))
	}

	return ack, nil
}
