package fetcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/common/expfmt"

	"github.com/cephscope/cephscope/ingester/internal/config"
)

// maxLineSize bounds a single exposition line. Metadata series with long
// version strings run well past bufio's 64KiB default on large clusters.
const maxLineSize = 1 << 20

// ErrFetch is matched by every *FetchError.
var ErrFetch = errors.New("fetcher: fetch failed")

// Cause tags why a fetch failed.
type Cause string

const (
	CauseHTTP            Cause = "http"
	CauseStatus          Cause = "status"
	CauseFallbackMissing Cause = "fallback_missing"
	CauseFallbackRead    Cause = "fallback_read"
)

// FetchError is returned for every fetch failure.
type FetchError struct {
	Cause  Cause
	Target string // URL or file path
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetcher: %s %s: %v", e.Cause, e.Target, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrFetch) true for any FetchError.
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// Fetcher pulls exposition text from a manager or the fallback file.
type Fetcher struct {
	client   *http.Client
	port     int
	path     string
	fallback string
}

// New returns a Fetcher for the given endpoint settings and fallback file.
func New(cfg config.MetricsConfig, fallbackFile string) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: cfg.Timeout},
		port:     cfg.Port,
		path:     cfg.Path,
		fallback: fallbackFile,
	}
}

// URL returns the exposition URL for host.
func (f *Fetcher) URL(host string) string {
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(host, strconv.Itoa(f.port)),
		Path:   f.path,
	}
	return u.String()
}

// Fetch returns the non-blank lines served by host, or of the fallback file
// when host is empty.
func (f *Fetcher) Fetch(ctx context.Context, host string) ([]string, error) {
	if host == "" {
		return f.readFallback()
	}

	target := f.URL(host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{Cause: CauseHTTP, Target: target, Err: err}
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Cause: CauseHTTP, Target: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return nil, &FetchError{Cause: CauseStatus, Target: target, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	lines, err := readLines(resp.Body)
	if err != nil {
		return nil, &FetchError{Cause: CauseHTTP, Target: target, Err: err}
	}
	return lines, nil
}

func (f *Fetcher) readFallback() ([]string, error) {
	file, err := os.Open(f.fallback)
	if err != nil {
		cause := CauseFallbackRead
		if errors.Is(err, fs.ErrNotExist) {
			cause = CauseFallbackMissing
		}
		return nil, &FetchError{Cause: cause, Target: f.fallback, Err: err}
	}
	defer file.Close()

	lines, err := readLines(file)
	if err != nil {
		return nil, &FetchError{Cause: CauseFallbackRead, Target: f.fallback, Err: err}
	}
	return lines, nil
}

// readLines splits r into lines, dropping whitespace-only ones.
func readLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}
