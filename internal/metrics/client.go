// Package metrics scrapes node Prometheus endpoints and caches the
// latest observed values per node, writing a curated subset through to
// the store as a bounded time series.
package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/formicaio/formicaiod/internal/types"
)

// MetricsProxyAddrEnv overrides the scrape endpoint: when set, metrics
// are fetched from "http://<addr>/<port>" instead of the node's own
// "http://127.0.0.1:<port>/metrics".
const MetricsProxyAddrEnv = "METRICS_PROXY_ADDR"

const defaultMetricsHost = "127.0.0.1"

// scrapeTimeout bounds one exposition fetch.
const scrapeTimeout = 3 * time.Second

// collectedKeys is the closed set of metrics kept from each scrape.
var collectedKeys = map[string]struct{}{
	types.MetricKeyBalance:         {},
	types.MetricKeyMemUsedMB:       {},
	types.MetricKeyCPUUsage:        {},
	types.MetricKeyRecords:         {},
	types.MetricKeyRelevantRecords: {},
	types.MetricKeyConnectedPeers:  {},
	types.MetricKeyPeersInRT:       {},
	types.MetricKeyShunnedCount:    {},
	types.MetricKeyNetSize:         {},
}

// Client fetches the exposition endpoint of one node.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient builds a scrape client for the given node metrics port,
// honouring the proxy override env var.
func NewClient(port uint16) *Client {
	var endpoint string
	if addr := os.Getenv(MetricsProxyAddrEnv); addr != "" {
		endpoint = fmt.Sprintf("http://%s/%d", addr, port)
	} else {
		endpoint = fmt.Sprintf("http://%s:%d/metrics", defaultMetricsHost, port)
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: scrapeTimeout},
	}
}

// FetchMetrics scrapes the endpoint and returns the samples for the
// collected key set. Values are kept as the exact strings found in the
// exposition text: the reward balance is a wei-precision counter that a
// float64 round-trip would corrupt.
func (c *Client) FetchMetrics(ctx context.Context) ([]types.NodeMetric, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metrics request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metrics from %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metrics endpoint %s returned status %d", c.endpoint, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics response: %w", err)
	}

	return ParseExposition(string(body), time.Now().UnixMilli()), nil
}

// ParseExposition extracts the collected keys from Prometheus text
// exposition format, stamping every sample with the given timestamp.
func ParseExposition(body string, timestamp int64) []types.NodeMetric {
	var fetched []types.NodeMetric
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		if _, ok := collectedKeys[parts[0]]; !ok {
			continue
		}
		fetched = append(fetched, types.NodeMetric{
			Key:       parts[0],
			Value:     parts[1],
			Timestamp: timestamp,
		})
	}
	return fetched
}
