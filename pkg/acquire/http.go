package acquire

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
)

// DefaultKaggleBaseURL is the public Kaggle API host.
const DefaultKaggleBaseURL = "https://www.kaggle.com"

// KaggleFetcher downloads a dataset archive through the Kaggle API.
type KaggleFetcher struct {
	BaseURL  string
	Dataset  string // owner/name
	Username string
	Key      string

	dl *downloader
}

// NewKaggleFetcher creates a fetcher for dataset with explicit credentials.
func NewKaggleFetcher(baseURL, dataset, username, key string) *KaggleFetcher {
	return &KaggleFetcher{
		BaseURL:  baseURL,
		Dataset:  dataset,
		Username: username,
		Key:      key,
		dl:       &downloader{timeout: 30 * time.Minute},
	}
}

// Name returns the dataset reference.
func (f *KaggleFetcher) Name() string {
	return "kaggle:" + f.Dataset
}

// Fetch downloads and extracts the dataset archive into dir.
func (f *KaggleFetcher) Fetch(ctx context.Context, dir string) ([]string, error) {
	if f.Username == "" || f.Key == "" {
		return nil, tferrors.New(tferrors.CodeAuthentication,
			"kaggle credentials missing: set KAGGLE_USERNAME and KAGGLE_KEY or ~/.kaggle/kaggle.json")
	}
	owner, name, ok := strings.Cut(f.Dataset, "/")
	if !ok || owner == "" || name == "" {
		return nil, tferrors.Newf(tferrors.CodeConfig, "dataset must be owner/name, got %q", f.Dataset)
	}

	base := f.BaseURL
	if base == "" {
		base = DefaultKaggleBaseURL
	}
	endpoint := strings.TrimRight(base, "/") + "/api/v1/datasets/download/" +
		url.PathEscape(owner) + "/" + url.PathEscape(name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, tferrors.Wrap(err, tferrors.CodeConfig, "invalid kaggle url")
	}
	req.SetBasicAuth(f.Username, f.Key)

	tmp, err := f.dl.fetch(req, dir, name)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp)
	return Extract(tmp, dir)
}

// HTTPFetcher downloads a dataset from a plain URL. Zip archives are
// extracted; anything else is saved under the URL's base name.
type HTTPFetcher struct {
	URL   string
	Token string // optional bearer token

	dl *downloader
}

// NewHTTPFetcher creates a fetcher for rawURL.
func NewHTTPFetcher(rawURL, token string) *HTTPFetcher {
	return &HTTPFetcher{URL: rawURL, Token: token, dl: &downloader{timeout: 30 * time.Minute}}
}

// Name returns the URL.
func (f *HTTPFetcher) Name() string {
	return f.URL
}

// Fetch downloads the URL into dir.
func (f *HTTPFetcher) Fetch(ctx context.Context, dir string) ([]string, error) {
	u, err := url.Parse(f.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, tferrors.Newf(tferrors.CodeConfig, "acquire.url must be an http(s) url, got %q", f.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, tferrors.Wrap(err, tferrors.CodeConfig, "invalid url")
	}
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}

	base := path.Base(u.Path)
	if base == "." || base == "/" {
		base = "dataset"
	}
	tmp, err := f.dl.fetch(req, dir, base)
	if err != nil {
		return nil, err
	}
	return place(tmp, dir, base)
}

// place extracts tmp when it is a zip archive, otherwise renames it to
// name inside dir.
func place(tmp, dir, name string) ([]string, error) {
	zipped, err := isZip(tmp)
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if zipped {
		defer os.Remove(tmp)
		return Extract(tmp, dir)
	}

	dest := filepath.Join(dir, filepath.Base(name))
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return nil, tferrors.WrapFS(err, "save download").WithContext("path", dest)
	}
	return []string{dest}, nil
}

// downloader streams HTTP responses into temp files.
type downloader struct {
	client   *http.Client
	timeout  time.Duration
	progress ProgressFunc
}

func (d *downloader) httpClient() *http.Client {
	if d.client != nil {
		return d.client
	}
	return &http.Client{Timeout: d.timeout}
}

// fetch performs req and writes the body to a temp file in dir.
func (d *downloader) fetch(req *http.Request, dir, label string) (string, error) {
	resp, err := d.httpClient().Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return "", tferrors.Canceled("download", req.Context().Err())
		}
		return "", tferrors.Wrap(err, tferrors.CodeNetwork, "download failed").WithContext("url", redact(req.URL))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", tferrors.Newf(tferrors.CodeAuthentication, "download rejected: %s", resp.Status).
			WithContext("url", redact(req.URL))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", tferrors.Newf(tferrors.CodeNetwork, "download failed: %s", resp.Status).
			WithContext("url", redact(req.URL))
	}

	return saveTemp(dir, resp.Body, resp.ContentLength, label, d.progress)
}

type finisher interface {
	Finish() error
}

// saveTemp copies r into a new temp file in dir.
func saveTemp(dir string, r io.Reader, total int64, label string, progress ProgressFunc) (string, error) {
	f, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", tferrors.WrapFS(err, "create download file").WithContext("dir", dir)
	}
	tmp := f.Name()

	var w io.Writer = f
	var bar io.Writer
	if progress != nil {
		bar = progress(total, label)
		w = io.MultiWriter(f, bar)
	}

	bw := bufio.NewWriterSize(w, 1<<20)
	_, err = io.Copy(bw, r)
	if err == nil {
		err = bw.Flush()
	}
	if fin, ok := bar.(finisher); ok {
		fin.Finish()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return "", tferrors.WrapFS(err, "write download")
		}
		return "", tferrors.Wrap(err, tferrors.CodeNetwork, "download interrupted")
	}
	return tmp, nil
}

// redact drops credentials from u for logging.
func redact(u *url.URL) string {
	c := *u
	c.User = nil
	c.RawQuery = ""
	return c.String()
}
