package discovery

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
)

const (
	// ProbePath is a cheap unary RPC every language server build answers.
	ProbePath = "/exa.language_server_pb.LanguageServerService/GetUnleashData"

	csrfHeader = "X-Codeium-Csrf-Token"
)

var probeBody = []byte(`{"context":{"properties":{"devMode":"false","extensionVersion":"","hasAnthropicModelAccess":"true","ide":"antigravity","ideVersion":"unknown","installationId":"lsprobe","language":"UNSPECIFIED","os":"unknown","requestedModelId":"MODEL_UNSPECIFIED"}}}`)

// StatusError is returned by HTTPSProber when the server answers with
// anything other than 200.
type StatusError struct {
	Port int
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("port %d answered with status %d", e.Port, e.Code)
}

// HTTPSProber checks a loopback port with a single Connect-protocol POST.
type HTTPSProber struct {
	Client *http.Client
	// Host defaults to 127.0.0.1.
	Host string
}

// NewHTTPSProber returns a prober that accepts the server's self-signed
// certificate and never goes through a proxy.
func NewHTTPSProber() *HTTPSProber {
	transport := &http.Transport{
		Proxy: nil,
		// #nosec G402 -- the language server uses a self-signed loopback certificate
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
		DisableKeepAlives: true,
	}
	return &HTTPSProber{Client: &http.Client{Transport: transport}}
}

// Probe reports nil iff the port answered the RPC with status 200.
// The deadline comes from ctx.
func (p *HTTPSProber) Probe(ctx context.Context, port int, token string) error {
	host := p.Host
	if host == "" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("https://%s:%d%s", host, port, ProbePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(probeBody))
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Connect-Protocol-Version", "1")
	req.Header.Set(csrfHeader, token)

	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("probing port %d: %w", port, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Port: port, Code: resp.StatusCode}
	}
	return nil
}
