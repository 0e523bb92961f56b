package sdf_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"github.com/fivestones/gmpreport/backoff"
	"github.com/fivestones/gmpreport/remote"
	"github.com/fivestones/gmpreport/remote/sdf"
)

var tok = &oauth2.Token{AccessToken: "t"}

func newClient(t *testing.T, h http.HandlerFunc) *sdf.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return sdf.New(sdf.WithBaseURL(srv.URL), sdf.WithHTTPClient(srv.Client()))
}

func TestCreate(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v3/sdfdownloadtasks" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req sdf.CreateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.AdvertiserID != "42" {
			t.Errorf("advertiserId = %q", req.AdvertiserID)
		}
		_ = json.NewEncoder(w).Encode(sdf.Operation{Name: "sdfdownloadtasks/operations/7"})
	})

	spec, err := sdf.NewSpec("sdf 42", sdf.CreateRequest{Version: "SDF_VERSION_7", AdvertiserID: "42"})
	if err != nil {
		t.Fatal(err)
	}
	h, err := c.Create(context.Background(), tok, spec)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if h.Kind != sdf.Kind || h.ID != "sdfdownloadtasks/operations/7" || h.Title != "sdf 42" {
		t.Fatalf("handle = %+v", h)
	}
}

func TestCreate_NoOperationNameIsPermanent(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	_, err := c.Create(context.Background(), tok, remote.Spec{Kind: sdf.Kind})
	if !backoff.IsPermanent(err) {
		t.Fatalf("got %v, want permanent", err)
	}
}

func TestStatus_FetchesOperation(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/sdfdownloadtasks/operations/7" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(sdf.Operation{
			Name:     "sdfdownloadtasks/operations/7",
			Done:     true,
			Response: &sdf.Response{ResourceName: "sdfdownloadtasks/media/9"},
		})
	})

	st, err := c.Status(context.Background(), tok, remote.Handle{ID: "sdfdownloadtasks/operations/7"})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != remote.StateDone {
		t.Fatalf("state = %q", st.State)
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		in      sdf.Operation
		want    remote.State
		code    string
		message string
	}{
		{name: "pending", in: sdf.Operation{}, want: remote.StateRunning},
		{name: "error ignored until done", in: sdf.Operation{Error: &sdf.OperationError{Code: 3}}, want: remote.StateRunning},
		{name: "done", in: sdf.Operation{Done: true, Response: &sdf.Response{ResourceName: "m"}}, want: remote.StateDone},
		{
			name:    "failed",
			in:      sdf.Operation{Done: true, Error: &sdf.OperationError{Code: 3, Message: "invalid filter"}},
			want:    remote.StateFailed,
			code:    "3",
			message: "sdf download task failed: invalid filter",
		},
		{
			name:    "failed without code",
			in:      sdf.Operation{Done: true, Error: &sdf.OperationError{Message: "x"}},
			want:    remote.StateFailed,
			message: "sdf download task failed: x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := sdf.Extract(tt.in)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if st.State != tt.want {
				t.Fatalf("state = %q, want %q", st.State, tt.want)
			}
			if tt.want == remote.StateFailed {
				if st.Failure.Code != tt.code || st.Failure.Message != tt.message {
					t.Fatalf("failure = %+v", st.Failure)
				}
			}
		})
	}
}

func TestDownload(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/download/sdfdownloadtasks/media/9" || r.URL.Query().Get("alt") != "media" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("PK-zip-bytes"))
	})

	artifact, _ := json.Marshal(sdf.Operation{Done: true, Response: &sdf.Response{ResourceName: "sdfdownloadtasks/media/9"}})
	body, err := c.Download(context.Background(), tok, artifact)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer body.Close()
	got, _ := io.ReadAll(body)
	if !strings.HasPrefix(string(got), "PK") {
		t.Fatalf("body = %q", got)
	}
}

func TestDownload_NoResourceIsPermanent(t *testing.T) {
	c := sdf.New()
	artifact, _ := json.Marshal(sdf.Operation{Name: "op", Done: true})
	_, err := c.Download(context.Background(), tok, artifact)
	if !backoff.IsPermanent(err) {
		t.Fatalf("got %v, want permanent", err)
	}
}
