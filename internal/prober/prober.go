package prober

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/fleetwatch/fleetwatch/internal/db"
)

const maxRedirects = 3

// Result is one probe observation. Status 0 means the request never
// completed (DNS, dial, TLS, timeout).
type Result struct {
	OK        bool
	Status    int
	LatencyMs int
	Err       string
	CheckedAt time.Time
}

type Prober struct {
	client *http.Client
}

func NewProber() *Prober {
	return &Prober{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: false,
				},
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

// Probe issues one request against the target. Transport failures come
// back as status 0 with the error text; completed responses carry the
// real status code whether or not it is accepted.
func (p *Prober) Probe(ctx context.Context, target *db.HTTPTarget) *Result {
	result := &Result{CheckedAt: time.Now()}

	method := target.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target.URL, nil)
	if err != nil {
		result.Err = fmt.Sprintf("failed to create request: %v", err)
		return result
	}

	client := p.client
	if target.TimeoutSeconds > 0 {
		client = &http.Client{
			Timeout:       time.Duration(target.TimeoutSeconds) * time.Second,
			Transport:     p.client.Transport,
			CheckRedirect: p.client.CheckRedirect,
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	result.LatencyMs = int(time.Since(start).Milliseconds())

	if err != nil {
		result.Err = fmt.Sprintf("request failed: %v", err)
		return result
	}
	defer resp.Body.Close()

	result.Status = resp.StatusCode
	result.OK = statusAccepted(target.AcceptedStatusCodes, resp.StatusCode)
	if !result.OK {
		result.Err = fmt.Sprintf("unexpected status code: %d", resp.StatusCode)
	}
	return result
}

func statusAccepted(codes db.StatusCodes, status int) bool {
	if len(codes) == 0 {
		return status == http.StatusOK
	}
	return codes.Contains(status)
}
