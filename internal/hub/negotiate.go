package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const maxNegotiateRedirects = 5

// TransportKind names a transport as listed by the negotiate endpoint.
type TransportKind string

const (
	WebSockets  TransportKind = "WebSockets"
	LongPolling TransportKind = "LongPolling"
)

// ParseTransportKinds keeps the supported names from list, in order.
func ParseTransportKinds(list []string) []TransportKind {
	kinds := []TransportKind{}
	for _, name := range list {
		switch k := TransportKind(strings.TrimSpace(name)); k {
		case WebSockets, LongPolling:
			kinds = append(kinds, k)
		}
	}
	return kinds
}

type availableTransport struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

type negotiateResponse struct {
	ConnectionID        string               `json:"connectionId"`
	ConnectionToken     string               `json:"connectionToken"`
	NegotiateVersion    int                  `json:"negotiateVersion"`
	AvailableTransports []availableTransport `json:"availableTransports"`
	URL                 string               `json:"url"`
	AccessToken         string               `json:"accessToken"`
	Error               string               `json:"error"`
}

// endpoint is the outcome of negotiation: where and how to connect.
type endpoint struct {
	url         string
	accessToken string
	kind        TransportKind
}

func negotiate(
	ctx context.Context,
	client *http.Client,
	hubURL string,
	accessToken string,
	preferred []TransportKind,
) (*endpoint, error) {
	for redirects := 0; redirects <= maxNegotiateRedirects; redirects += 1 {
		negotiateURL, err := withPath(hubURL, "negotiate")
		if err != nil {
			return nil, err
		}
		negotiateURL, err = withQuery(negotiateURL, "negotiateVersion", "1")
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, negotiateURL, nil)
		if err != nil {
			return nil, err
		}
		if accessToken != "" {
			req.Header.Set("Authorization", "Bearer "+accessToken)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("negotiate: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("negotiate: read body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("negotiate: unexpected status %d", resp.StatusCode)
		}

		var r negotiateResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("negotiate: decode: %w", err)
		}
		if r.Error != "" {
			return nil, fmt.Errorf("negotiate: %s", r.Error)
		}
		if r.URL != "" {
			// redirected to another service, e.g. a managed hub
			hubURL = r.URL
			if r.AccessToken != "" {
				accessToken = r.AccessToken
			}
			continue
		}

		kind, ok := pickTransport(preferred, r.AvailableTransports)
		if !ok {
			return nil, errors.New("negotiate: no supported transport offered")
		}
		id := r.ConnectionToken
		if r.NegotiateVersion == 0 || id == "" {
			id = r.ConnectionID
		}
		connectURL, err := withQuery(hubURL, "id", id)
		if err != nil {
			return nil, err
		}
		return &endpoint{
			url:         connectURL,
			accessToken: accessToken,
			kind:        kind,
		}, nil
	}
	return nil, errors.New("negotiate: too many redirects")
}

func pickTransport(preferred []TransportKind, available []availableTransport) (TransportKind, bool) {
	for _, kind := range preferred {
		for _, a := range available {
			if a.Transport != string(kind) {
				continue
			}
			for _, format := range a.TransferFormats {
				if format == "Text" {
					return kind, true
				}
			}
		}
	}
	return "", false
}

func withPath(rawURL string, segment string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid hub url %q: %w", rawURL, err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + segment
	return u.String(), nil
}

func withQuery(rawURL string, key string, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid hub url %q: %w", rawURL, err)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func websocketURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}
