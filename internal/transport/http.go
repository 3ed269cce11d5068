package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/odi-dev/odi/internal/odierr"
	"github.com/odi-dev/odi/internal/refstore"
)

// httpAdapter implements Adapter over the object/ref URL conventions of
// spec.md §4.8: "…/objects/<hh>/<rest>" and "…/refs/<name>".
type httpAdapter struct {
	base   string
	client *http.Client
	opts   Options
}

func dialHTTP(u *url.URL, opts Options) Adapter {
	return &httpAdapter{base: strings.TrimSuffix(u.String(), "/"), client: http.DefaultClient, opts: opts}
}

func (a *httpAdapter) authorize(req *http.Request) {
	if a.opts.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.opts.BearerToken)
		return
	}
	if a.opts.BasicUser != "" {
		req.SetBasicAuth(a.opts.BasicUser, a.opts.BasicPass)
	}
}

func (a *httpAdapter) do(req *http.Request) (*http.Response, error) {
	a.authorize(req)
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", odierr.ErrUnavailable, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: remote returned 401", odierr.ErrAuthRequired)
	}
	return resp, nil
}

func (a *httpAdapter) ListRefs(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+"/refs", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode list_refs response: %v", odierr.ErrUnavailable, err)
	}
	return out, nil
}

func (a *httpAdapter) HasObjects(ctx context.Context, hashes []string) ([]bool, error) {
	body, err := json.Marshal(hashes)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/has_objects", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out []bool
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode has_objects response: %v", odierr.ErrUnavailable, err)
	}
	return out, nil
}

func (a *httpAdapter) GetObject(ctx context.Context, hash string) ([]byte, error) {
	reqURL := fmt.Sprintf("%s/objects/%s/%s", a.base, hash[:2], hash[2:])
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: object %s not found on remote", odierr.ErrUnknownEntity, hash)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read object body: %v", odierr.ErrUnavailable, err)
	}
	return data, nil
}

func (a *httpAdapter) PutObject(ctx context.Context, hash string, data []byte) error {
	reqURL := fmt.Sprintf("%s/objects/%s/%s", a.base, hash[:2], hash[2:])
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, reqURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := a.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: remote reports hash mismatch for %s", odierr.ErrIntegrity, hash)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: put_object returned status %d", odierr.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

type updateRefRequest struct {
	ExpectedHash string `json:"expected_hash"`
	NewHash      string `json:"new_hash"`
}

type updateRefResponse struct {
	Conflict    bool   `json:"conflict"`
	CurrentHash string `json:"current_hash"`
}

func (a *httpAdapter) UpdateRef(ctx context.Context, name string, expectedHash, newHash string) (refstore.CASResult, string, error) {
	body, err := json.Marshal(updateRefRequest{ExpectedHash: expectedHash, NewHash: newHash})
	if err != nil {
		return refstore.Conflict, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/refs/"+name, bytes.NewReader(body))
	if err != nil {
		return refstore.Conflict, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.do(req)
	if err != nil {
		return refstore.Conflict, "", err
	}
	defer resp.Body.Close()
	var out updateRefResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return refstore.Conflict, "", fmt.Errorf("%w: decode update_ref response: %v", odierr.ErrUnavailable, err)
	}
	if out.Conflict {
		return refstore.Conflict, out.CurrentHash, nil
	}
	return refstore.Updated, newHash, nil
}

func (a *httpAdapter) Close() error { return nil }
