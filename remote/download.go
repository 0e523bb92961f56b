package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/oauth2"

	"github.com/fivestones/gmpreport/backoff"
)

// Downloader opens the content behind a finished task's artifact.
type Downloader interface {
	Download(ctx context.Context, tok *oauth2.Token, artifact json.RawMessage) (io.ReadCloser, error)
}

// DownloadToTemp streams the artifact into a new temporary file and returns
// its path. Each attempt starts a fresh file; r bounds the attempts and a
// nil r means backoff.DefaultRetrier. The caller removes the file.
func DownloadToTemp(ctx context.Context, d Downloader, tok *oauth2.Token, artifact json.RawMessage, pattern string, r *backoff.Retrier) (string, error) {
	if r == nil {
		r = backoff.DefaultRetrier()
	}

	var path string
	err := r.Do(ctx, func(ctx context.Context) error {
		body, err := d.Download(ctx, tok, artifact)
		if err != nil {
			return err
		}
		defer body.Close()

		f, err := os.CreateTemp("", pattern)
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := io.Copy(f, body); err != nil {
			f.Close()
			os.Remove(f.Name())
			return err
		}
		if err := f.Close(); err != nil {
			os.Remove(f.Name())
			return err
		}
		path = f.Name()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("remote: download artifact: %w", err)
	}
	return path, nil
}
