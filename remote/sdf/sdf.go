// Package sdf is the remote adapter for Display & Video 360 Structured
// Data File download tasks.
//
// Creating a task starts it and returns a long-running operation with a
// flat done flag and error. The finished artifact is the operation, whose
// response names the media resource Download streams.
package sdf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/fivestones/gmpreport/backoff"
	"github.com/fivestones/gmpreport/remote"
	"github.com/fivestones/gmpreport/remote/rest"
)

// Kind identifies SDF download tasks.
const Kind remote.Kind = "dv360.sdf"

// DefaultBaseURL is the Display & Video 360 API host.
const DefaultBaseURL = "https://displayvideo.googleapis.com"

// DefaultVersion is the API version used in request paths.
const DefaultVersion = "v3"

var (
	_ remote.Creator        = (*Client)(nil)
	_ remote.StatusProvider = (*Client)(nil)
	_ remote.Downloader     = (*Client)(nil)
)

// CreateRequest is the body of an SDF download task.
type CreateRequest struct {
	Version               string          `json:"version"`
	AdvertiserID          string          `json:"advertiserId,omitempty"`
	PartnerID             string          `json:"partnerId,omitempty"`
	ParentEntityFilter    json.RawMessage `json:"parentEntityFilter,omitempty"`
	IDFilter              json.RawMessage `json:"idFilter,omitempty"`
	InventorySourceFilter json.RawMessage `json:"inventorySourceFilter,omitempty"`
}

// Operation is the long-running operation behind a download task.
type Operation struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Error    *OperationError `json:"error,omitempty"`
	Response *Response       `json:"response,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// OperationError is the status of a failed operation.
type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is the result of a finished operation.
type Response struct {
	Type         string `json:"@type,omitempty"`
	ResourceName string `json:"resourceName"`
}

// NewSpec returns the Spec that creates req. The title only labels the
// task locally; the service does not store it.
func NewSpec(title string, req CreateRequest) (remote.Spec, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return remote.Spec{}, fmt.Errorf("sdf: encode request: %w", err)
	}
	return remote.Spec{Kind: Kind, Title: title, Body: body}, nil
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API host.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.rest.BaseURL = u }
}

// WithVersion overrides the API version path segment.
func WithVersion(v string) Option {
	return func(c *Client) { c.version = v }
}

// WithHTTPClient sets the client that authorized requests are sent through.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.rest.Transport = hc }
}

// Client talks to the Display & Video 360 API.
type Client struct {
	rest    rest.Client
	version string
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{rest: rest.Client{BaseURL: DefaultBaseURL}, version: DefaultVersion}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create starts the download task in spec.Body.
func (c *Client) Create(ctx context.Context, tok *oauth2.Token, spec remote.Spec) (remote.Handle, error) {
	var op Operation
	if err := c.rest.Do(ctx, tok, http.MethodPost, c.version+"/sdfdownloadtasks", nil, spec.Body, &op); err != nil {
		return remote.Handle{}, err
	}
	if op.Name == "" {
		return remote.Handle{}, backoff.Permanent(errors.New("sdf: create returned no operation name"))
	}
	return remote.Handle{Kind: Kind, ID: op.Name, Title: spec.Title, Params: spec.Body}, nil
}

// Operation fetches the current operation.
func (c *Client) Operation(ctx context.Context, tok *oauth2.Token, h remote.Handle) (Operation, error) {
	var op Operation
	err := c.rest.Do(ctx, tok, http.MethodGet, c.version+"/"+h.ID, nil, nil, &op)
	return op, err
}

// Status implements remote.StatusProvider.
func (c *Client) Status(ctx context.Context, tok *oauth2.Token, h remote.Handle) (remote.Status, error) {
	return remote.Compose(c.Operation, Extract).Status(ctx, tok, h)
}

// Extract classifies an operation by its done flag and error.
func Extract(op Operation) (remote.Status, error) {
	if !op.Done {
		return remote.Running(), nil
	}
	if op.Error != nil {
		code := ""
		if op.Error.Code != 0 {
			code = strconv.Itoa(op.Error.Code)
		}
		return remote.Failed(code, "sdf download task failed: "+op.Error.Message), nil
	}
	artifact, err := json.Marshal(op)
	if err != nil {
		return remote.Status{}, backoff.Permanent(fmt.Errorf("sdf: encode operation: %w", err))
	}
	return remote.Done(artifact), nil
}

// Download streams the media resource named by the operation response.
func (c *Client) Download(ctx context.Context, tok *oauth2.Token, artifact json.RawMessage) (io.ReadCloser, error) {
	var op Operation
	if err := json.Unmarshal(artifact, &op); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("sdf: decode operation: %w", err))
	}
	if op.Response == nil || op.Response.ResourceName == "" {
		return nil, backoff.Permanent(fmt.Errorf("sdf: operation %s has no resource", op.Name))
	}
	u := strings.TrimRight(c.rest.BaseURL, "/") + "/download/" + op.Response.ResourceName + "?" + url.Values{"alt": {"media"}}.Encode()
	return c.rest.Open(ctx, tok, u)
}
