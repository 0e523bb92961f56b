// Package dbm is the remote adapter for Bid Manager report queries.
//
// A query is created, then run asynchronously; each run produces a report
// whose metadata carries a nested status. The finished artifact is the
// latest report, whose Cloud Storage path Download streams.
package dbm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/oauth2"

	"github.com/fivestones/gmpreport/backoff"
	"github.com/fivestones/gmpreport/remote"
	"github.com/fivestones/gmpreport/remote/rest"
)

// Kind identifies report-query tasks.
const Kind remote.Kind = "dbm.report"

// DefaultBaseURL is the Bid Manager v2 endpoint.
const DefaultBaseURL = "https://doubleclickbidmanager.googleapis.com/v2"

// Report states.
const (
	StateQueued  = "QUEUED"
	StateRunning = "RUNNING"
	StateDone    = "DONE"
	StateFailed  = "FAILED"
)

// ErrNoReport is returned while a query has produced no report yet. It is
// not permanent: the run may still be materializing.
var ErrNoReport = errors.New("dbm: no report in the query")

var (
	_ remote.Creator        = (*Client)(nil)
	_ remote.Finder         = (*Client)(nil)
	_ remote.Starter        = (*Client)(nil)
	_ remote.StatusProvider = (*Client)(nil)
	_ remote.Downloader     = (*Client)(nil)
)

// Query is a report query.
type Query struct {
	QueryID  string          `json:"queryId,omitempty"`
	Metadata QueryMetadata   `json:"metadata"`
	Params   json.RawMessage `json:"params,omitempty"`
	Schedule json.RawMessage `json:"schedule,omitempty"`
}

// QueryMetadata holds the query title and output settings.
type QueryMetadata struct {
	Title            string          `json:"title"`
	DataRange        json.RawMessage `json:"dataRange,omitempty"`
	Format           string          `json:"format,omitempty"`
	SendNotification bool            `json:"sendNotification,omitempty"`
}

// Report is one run of a query.
type Report struct {
	Key      ReportKey       `json:"key"`
	Metadata ReportMetadata  `json:"metadata"`
	Params   json.RawMessage `json:"params,omitempty"`
}

// ReportKey identifies a report.
type ReportKey struct {
	QueryID  string `json:"queryId"`
	ReportID string `json:"reportId"`
}

// ReportMetadata carries the status and output location of a report.
type ReportMetadata struct {
	Status                 ReportStatus    `json:"status"`
	GoogleCloudStoragePath string          `json:"googleCloudStoragePath,omitempty"`
	ReportDataStartDate    json.RawMessage `json:"reportDataStartDate,omitempty"`
	ReportDataEndDate      json.RawMessage `json:"reportDataEndDate,omitempty"`
}

// ReportStatus is the nested state of a report.
type ReportStatus struct {
	State      string         `json:"state"`
	FinishTime string         `json:"finishTime,omitempty"`
	Format     string         `json:"format,omitempty"`
	Failure    *ReportFailure `json:"failure,omitempty"`
}

// ReportFailure is set on failed reports by services that report a code.
type ReportFailure struct {
	ErrorCode string `json:"errorCode"`
}

type listQueriesResponse struct {
	Queries       []Query `json:"queries"`
	NextPageToken string  `json:"nextPageToken"`
}

type listReportsResponse struct {
	Reports       []Report `json:"reports"`
	NextPageToken string   `json:"nextPageToken"`
}

// NewSpec returns the Spec that creates q.
func NewSpec(q Query) (remote.Spec, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return remote.Spec{}, fmt.Errorf("dbm: encode query: %w", err)
	}
	return remote.Spec{Kind: Kind, Title: q.Metadata.Title, Body: body}, nil
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.rest.BaseURL = u }
}

// WithHTTPClient sets the client that authorized requests are sent through.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.rest.Transport = hc }
}

// WithPageSize sets the page size used when listing queries and reports.
func WithPageSize(n int) Option {
	return func(c *Client) { c.pageSize = n }
}

// Client talks to the Bid Manager API.
type Client struct {
	rest     rest.Client
	pageSize int
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{rest: rest.Client{BaseURL: DefaultBaseURL}, pageSize: 100}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create creates the query in spec.Body.
func (c *Client) Create(ctx context.Context, tok *oauth2.Token, spec remote.Spec) (remote.Handle, error) {
	var created Query
	if err := c.rest.Do(ctx, tok, http.MethodPost, "queries", nil, spec.Body, &created); err != nil {
		return remote.Handle{}, err
	}
	return handleFor(created, spec.Body), nil
}

// FindByTitle pages through the query list for a query titled exactly
// title.
func (c *Client) FindByTitle(ctx context.Context, tok *oauth2.Token, _ remote.Kind, title string) (remote.Handle, bool, error) {
	pageToken := ""
	for {
		q := url.Values{"pageSize": {strconv.Itoa(c.pageSize)}}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var resp listQueriesResponse
		if err := c.rest.Do(ctx, tok, http.MethodGet, "queries", q, nil, &resp); err != nil {
			return remote.Handle{}, false, err
		}
		for _, query := range resp.Queries {
			if query.Metadata.Title == title {
				return handleFor(query, nil), true, nil
			}
		}
		if resp.NextPageToken == "" {
			return remote.Handle{}, false, nil
		}
		pageToken = resp.NextPageToken
	}
}

// Start runs the query asynchronously.
func (c *Client) Start(ctx context.Context, tok *oauth2.Token, h remote.Handle) error {
	path := "queries/" + url.PathEscape(h.ID) + ":run"
	return c.rest.Do(ctx, tok, http.MethodPost, path, url.Values{"synchronous": {"false"}}, struct{}{}, nil)
}

// Reports lists every report of the query.
func (c *Client) Reports(ctx context.Context, tok *oauth2.Token, h remote.Handle) ([]Report, error) {
	path := "queries/" + url.PathEscape(h.ID) + "/reports"
	var (
		reports   []Report
		pageToken string
	)
	for {
		q := url.Values{"pageSize": {strconv.Itoa(c.pageSize)}}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var resp listReportsResponse
		if err := c.rest.Do(ctx, tok, http.MethodGet, path, q, nil, &resp); err != nil {
			return nil, err
		}
		reports = append(reports, resp.Reports...)
		if resp.NextPageToken == "" {
			return reports, nil
		}
		pageToken = resp.NextPageToken
	}
}

// LatestReport returns the last report listed for the query.
func (c *Client) LatestReport(ctx context.Context, tok *oauth2.Token, h remote.Handle) (Report, error) {
	reports, err := c.Reports(ctx, tok, h)
	if err != nil {
		return Report{}, err
	}
	if len(reports) == 0 {
		return Report{}, fmt.Errorf("query %s: %w", h.ID, ErrNoReport)
	}
	return reports[len(reports)-1], nil
}

// Status implements remote.StatusProvider for the query's latest report.
func (c *Client) Status(ctx context.Context, tok *oauth2.Token, h remote.Handle) (remote.Status, error) {
	return remote.Compose(c.LatestReport, Extract).Status(ctx, tok, h)
}

// Extract classifies a report by its nested status. Unrecognized states
// are still running.
func Extract(r Report) (remote.Status, error) {
	switch r.Metadata.Status.State {
	case StateDone:
		artifact, err := json.Marshal(r)
		if err != nil {
			return remote.Status{}, backoff.Permanent(fmt.Errorf("dbm: encode report: %w", err))
		}
		return remote.Done(artifact), nil
	case StateFailed:
		code := ""
		if f := r.Metadata.Status.Failure; f != nil {
			code = f.ErrorCode
		}
		return remote.Failed(code, "report failed"), nil
	default:
		return remote.Running(), nil
	}
}

// Download streams the file at the report's Cloud Storage path.
func (c *Client) Download(ctx context.Context, tok *oauth2.Token, artifact json.RawMessage) (io.ReadCloser, error) {
	var r Report
	if err := json.Unmarshal(artifact, &r); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("dbm: decode report: %w", err))
	}
	if r.Metadata.GoogleCloudStoragePath == "" {
		return nil, backoff.Permanent(fmt.Errorf("dbm: report %s has no storage path", r.Key.ReportID))
	}
	return c.rest.Open(ctx, tok, r.Metadata.GoogleCloudStoragePath)
}

func handleFor(q Query, params json.RawMessage) remote.Handle {
	return remote.Handle{Kind: Kind, ID: q.QueryID, Title: q.Metadata.Title, Params: params}
}
