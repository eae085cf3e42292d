package launcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cenkalti/backoff/v4"
)

const cratesAPIURL = "https://crates.io/api/v1/crates/ant-node"

// LatestNodeBinVersion queries the package registry for the newest
// published node binary version, retrying transient failures with
// exponential backoff.
func LatestNodeBinVersion(ctx context.Context) (string, error) {
	var version string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cratesAPIURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", "formicaiod")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("registry returned status %d", resp.StatusCode)
		}

		var payload struct {
			Crate struct {
				NewestVersion string `json:"newest_version"`
			} `json:"crate"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return err
		}
		if payload.Crate.NewestVersion == "" {
			return backoff.Permanent(fmt.Errorf("registry reported no version"))
		}
		version = payload.Crate.NewestVersion
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return "", fmt.Errorf("failed to query latest node version: %w", err)
	}
	return version, nil
}
