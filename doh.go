/*
File: doh.go
Version: 1.1.0
Description: DNS-over-HTTPS transport against the JSON API (application/dns-json).
             Used on networks that block port 53 entirely. The provider wraps
             TXT data in quote characters, which are stripped before the
             strings reach the reassembler.
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultDOHURL is the JSON API endpoint used when none is configured.
const DefaultDOHURL = "https://cloudflare-dns.com/dns-query"

const maxDoHBody = 64 * 1024

type dohAnswer struct {
	Type int    `json:"type"`
	Data string `json:"data"`
}

type dohResponse struct {
	Status int         `json:"Status"`
	Answer []dohAnswer `json:"Answer"`
}

type dohTransport struct {
	transportBase
	endpoint string
	client   *http.Client
}

func newDoHTransport(endpoint string, qps int, timeout time.Duration) *dohTransport {
	if endpoint == "" {
		endpoint = DefaultDOHURL
	}
	return &dohTransport{
		transportBase: transportBase{method: MethodHTTPS, pacer: newPacer(qps)},
		endpoint:      endpoint,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				ForceAttemptHTTP2:   true,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (t *dohTransport) Query(ctx context.Context, q *SanitizedQuery) ([]string, error) {
	sep := "?"
	if strings.Contains(t.endpoint, "?") {
		sep = "&"
	}
	target := t.endpoint + sep + "name=" + url.QueryEscape(q.QueryName) + "&type=TXT"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/dns-json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("DoH status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDoHBody))
	if err != nil {
		return nil, err
	}

	var parsed dohResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &MalformedResponseError{Reason: fmt.Sprintf("DoH body is not valid JSON: %v", err)}
	}

	var out []string
	for _, ans := range parsed.Answer {
		if ans.Type != qtypeTXT {
			continue
		}
		out = append(out, stripTXTQuotes(ans.Data))
	}
	return out, nil
}

// stripTXTQuotes removes the quote characters the JSON API wraps TXT data in.
// A long record arrives as several quoted strings; each is unwrapped.
func stripTXTQuotes(data string) string {
	if !strings.Contains(data, `"`) {
		return data
	}
	segments := strings.Split(data, `"`)
	var b strings.Builder
	for i, seg := range segments {
		// Odd segments are inside quotes.
		if i%2 == 1 {
			b.WriteString(seg)
		}
	}
	if b.Len() == 0 {
		return strings.Trim(data, `"`)
	}
	return b.String()
}
