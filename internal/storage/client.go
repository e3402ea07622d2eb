package storage

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultTokenTTL = time.Hour
	serviceVersion  = "2021-08-06"
)

// Compile-time interface satisfaction check.
var _ Container = (*Client)(nil)

// Client talks to the blob REST endpoint for one account and container.
type Client struct {
	account   string
	container string
	key       []byte
	http      *http.Client

	// endpoint overrides the account endpoint; tests point it at httptest.
	endpoint string
	now      func() time.Time
}

// NewClient creates a blob client for the given account and container. The
// key is the base64-encoded shared account key.
func NewClient(account, container, key string) *Client {
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		// Keys from local configuration may be plain text.
		decoded = []byte(key)
	}
	return &Client{
		account:   account,
		container: container,
		key:       decoded,
		http:      &http.Client{Timeout: defaultTimeout},
		endpoint:  "https://" + account + ".blob.core.windows.net",
		now:       time.Now,
	}
}

// Upload writes content as a block blob and returns a time-bounded URL for
// the transfer helper.
func (c *Client) Upload(ctx context.Context, name string, content []byte) (string, error) {
	u := c.endpoint + "/" + c.container + "/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("x-ms-blob-type", "BlockBlob")
	c.authorize(req, len(content))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload blob %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("upload blob %s: unexpected status %s", name, resp.Status)
	}

	expiry := c.now().Add(defaultTokenTTL).UTC().Format(time.RFC3339)
	token := url.Values{"se": {expiry}, "sig": {c.sign(name + "\n" + expiry)}}
	return u + "?" + token.Encode(), nil
}

// listResponse is the subset of the blob-list XML response we consume.
type listResponse struct {
	Blobs struct {
		Blob []struct {
			Name string `xml:"Name"`
		} `xml:"Blob"`
	} `xml:"Blobs"`
}

// List returns the names of blobs under prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	q := url.Values{
		"restype": {"container"},
		"comp":    {"list"},
		"prefix":  {prefix},
	}
	u := c.endpoint + "/" + c.container + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	c.authorize(req, 0)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list blobs under %q: %w", prefix, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list blobs under %q: unexpected status %s", prefix, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read list response: %w", err)
	}
	var parsed listResponse
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}

	names := make([]string, 0, len(parsed.Blobs.Blob))
	for _, b := range parsed.Blobs.Blob {
		names = append(names, b.Name)
	}
	return names, nil
}

// authorize signs the request with the storage shared-key scheme: an
// HMAC-SHA256 over the canonical request form, keyed by the account key and
// base64 encoded.
func (c *Client) authorize(req *http.Request, contentLength int) {
	req.Header.Set("x-ms-date", c.now().UTC().Format(http.TimeFormat))
	req.Header.Set("x-ms-version", serviceVersion)

	length := ""
	if contentLength > 0 {
		length = strconv.Itoa(contentLength)
	}

	// Verb, the standard headers (mostly unused here), the x-ms- headers,
	// then the canonicalized resource.
	stringToSign := req.Method + "\n" +
		"\n" + // Content-Encoding
		"\n" + // Content-Language
		length + "\n" +
		"\n" + // Content-MD5
		req.Header.Get("Content-Type") + "\n" +
		"\n" + // Date, carried in x-ms-date instead
		"\n\n\n\n\n" + // conditional headers and Range
		canonicalizedHeaders(req.Header) +
		canonicalizedResource(c.account, req.URL)

	mac := hmac.New(sha256.New, c.key)
	io.WriteString(mac, stringToSign)
	req.Header.Set("Authorization", "SharedKey "+c.account+":"+base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

// canonicalizedHeaders lists the x-ms- headers in sorted order, one
// name:value pair per line.
func canonicalizedHeaders(h http.Header) string {
	var names []string
	for name := range h {
		if lower := strings.ToLower(name); strings.HasPrefix(lower, "x-ms-") {
			names = append(names, lower)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name + ":" + h.Get(name) + "\n")
	}
	return b.String()
}

// canonicalizedResource is the account-scoped request path followed by the
// query parameters in sorted order, one name:value pair per line.
func canonicalizedResource(account string, u *url.URL) string {
	params := map[string][]string{}
	for name, values := range u.Query() {
		lower := strings.ToLower(name)
		params[lower] = append(params[lower], values...)
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("/" + account + u.Path)
	for _, name := range names {
		values := params[name]
		sort.Strings(values)
		b.WriteString("\n" + name + ":" + strings.Join(values, ","))
	}
	return b.String()
}

func (c *Client) sign(s string) string {
	mac := hmac.New(sha256.New, c.key)
	io.WriteString(mac, s)
	return hex.EncodeToString(mac.Sum(nil))
}
