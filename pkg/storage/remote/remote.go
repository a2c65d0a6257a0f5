// Package remote talks to a repository served over HTTP. It is the
// client half of the sync protocol and satisfies the sync endpoint
// contract.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stratumfs/stratum/pkg/model"
	"github.com/stratumfs/stratum/pkg/storage/status"
	tagstatus "github.com/stratumfs/stratum/pkg/tags/status"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultTimeout = 30 * time.Second

// Client accesses a remote repository.
type Client struct {
	base   string
	client *http.Client
}

// Option configures a Client.
type Option func(*Client)

// HTTPClient overrides the underlying http client, e.g. for tests or
// custom transports.
func HTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// New creates a client for the repository served at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported remote scheme %q", u.Scheme)
	}
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: defaultTimeout},
	}
	for _, apply := range opts {
		apply(c)
	}
	return c, nil
}

// String identifies the remote in logs and sync summaries.
func (c *Client) String() string { return c.base }

// HasObject checks object existence on the remote.
func (c *Client) HasObject(ctx context.Context, d model.Digest) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.objectURL(d), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, status.ErrNetwork.Wrap(err)
	}
	defer drain(resp)
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, unexpected(resp)
	}
}

// GetObject fetches object bytes from the remote.
func (c *Client) GetObject(ctx context.Context, d model.Digest) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(d), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, status.ErrNetwork.Wrap(err)
	}
	defer drain(resp)
	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, status.ErrNotFound.WrapMessage("%s on %s", d, c.base)
	default:
		return nil, unexpected(resp)
	}
}

// PutObjectBytes uploads object bytes; the digest is computed locally
// so the remote can verify content addressing end to end.
func (c *Client) PutObjectBytes(ctx context.Context, data []byte) (model.Digest, error) {
	d := model.DigestBytes(data)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(d), bytes.NewReader(data))
	if err != nil {
		return model.NullDigest, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.client.Do(req)
	if err != nil {
		return model.NullDigest, status.ErrNetwork.Wrap(err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusCreated {
		return model.NullDigest, unexpected(resp)
	}
	return d, nil
}

// TagHistory fetches the full ordered history of a tag.
func (c *Client) TagHistory(ctx context.Context, name string) ([]model.TagEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/tags/"+name+"/history", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, status.ErrNetwork.Wrap(err)
	}
	defer drain(resp)
	switch resp.StatusCode {
	case http.StatusOK:
		var history []model.TagEntry
		if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
			return nil, err
		}
		return history, nil
	case http.StatusNotFound:
		return nil, tagstatus.ErrNotFound.WrapMessage("%s on %s", name, c.base)
	default:
		return nil, unexpected(resp)
	}
}

// PushTagRaw appends a prepared history entry on the remote.
func (c *Client) PushTagRaw(ctx context.Context, entry *model.TagEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/tags/"+entry.Name, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return status.ErrNetwork.Wrap(err)
	}
	defer drain(resp)
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		return nil
	case http.StatusConflict:
		return tagstatus.ErrTagConflict.WrapMessage("%s on %s", entry.Name, c.base)
	default:
		return unexpected(resp)
	}
}

func (c *Client) objectURL(d model.Digest) string {
	return c.base + "/objects/" + d.String()
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

func unexpected(resp *http.Response) error {
	return status.ErrNetwork.WrapMessage("%s %s: unexpected status %s",
		resp.Request.Method, resp.Request.URL, resp.Status)
}
