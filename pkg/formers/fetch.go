// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package formers

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// UserAgent is sent on every fetch.
const UserAgent = "formerhub/1"

// checksumHeader carries the sha256 of the object on S3-compatible endpoints.
const checksumHeader = "x-amz-meta-sha256"

// progressReader wraps an io.Reader and emits progress events during reads.
type progressReader struct {
	reader     io.Reader
	total      int64
	downloaded int64
	reported   int64
	ident      string
	emit       ProgressFunc
	lastEmit   time.Time
	interval   time.Duration
}

func newProgressReader(r io.Reader, total int64, ident string, emit ProgressFunc) *progressReader {
	return &progressReader{
		reader:   r,
		total:    total,
		ident:    ident,
		emit:     emit,
		lastEmit: time.Now(),
		interval: 200 * time.Millisecond,
	}
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	pr.downloaded += int64(n)
	// Throttle emissions, but always report the final count.
	due := n > 0 && time.Since(pr.lastEmit) >= pr.interval
	if due || (err == io.EOF && pr.downloaded != pr.reported) {
		pr.emit.emit(ProgressEvent{
			Event:      "fetch_progress",
			Identifier: pr.ident,
			Downloaded: pr.downloaded,
			Total:      pr.total,
		})
		pr.lastEmit = time.Now()
		pr.reported = pr.downloaded
	}
	return n, err
}

// Fetcher downloads remote artifacts. A failed status is returned as an
// *APIError; nothing is retried.
type Fetcher struct {
	Client   *http.Client
	Token    string
	Progress ProgressFunc
}

// NewFetcher returns a fetcher with a tuned HTTP client.
func NewFetcher(token string, progress ProgressFunc) *Fetcher {
	return &Fetcher{Client: buildHTTPClient(), Token: token, Progress: progress}
}

func buildHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}
}

func addAuth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", UserAgent)
}

// Fetch downloads url into dst and returns the number of bytes written. The
// body is streamed into dst.tmp which is renamed into place only after the
// transfer (and checksum, when announced) succeeded.
func (f *Fetcher) Fetch(ctx context.Context, url, dst string) (int64, error) {
	httpc := f.Client
	if httpc == nil {
		httpc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidArgument, "fetch %s: %v", url, err)
	}
	addAuth(req, f.Token)

	resp, err := httpc.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "fetch %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, &APIError{StatusCode: resp.StatusCode, Status: resp.Status, URL: url}
	}

	f.Progress.emit(ProgressEvent{Event: "fetch_start", Identifier: url, Path: dst, Total: resp.ContentLength})

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, errors.Wrapf(err, "create %s", tmp)
	}
	pr := newProgressReader(resp.Body, resp.ContentLength, url, f.Progress)
	n, err := io.Copy(out, pr)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, errors.Wrapf(err, "fetch %s", url)
	}
	if want := strings.TrimSpace(resp.Header.Get(checksumHeader)); want != "" {
		if err := verifySHA256(tmp, want); err != nil {
			os.Remove(tmp)
			var ve *VerificationError
			if errors.As(err, &ve) {
				ve.Path = dst
			}
			return 0, err
		}
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, errors.Wrapf(err, "rename into %s", dst)
	}
	f.Progress.emit(ProgressEvent{Event: "fetch_done", Identifier: url, Path: dst, Downloaded: n, Total: n})
	return n, nil
}
