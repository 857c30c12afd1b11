package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrVersionGate is matched by every CheckVersion failure. Callers must not
// start work after it.
var ErrVersionGate = errors.New("protocol: version gate")

type VersionMismatchError struct {
	Local  string
	Latest string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("protocol: version %s, latest version %s", e.Local, e.Latest)
}

func (e *VersionMismatchError) Is(target error) bool {
	return target == ErrVersionGate
}

// CheckVersion compares local against the coordinator's latest release.
func (c *Client) CheckVersion(ctx context.Context, local string) error {
	query := url.Values{}
	query.Set("a", local)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(versionPath, query), nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVersionGate, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVersionGate, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: status %s", ErrVersionGate, resp.Status)
	}

	text, err := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVersionGate, err)
	}

	latest := strings.Trim(strings.TrimSpace(string(text)), `"`)
	if latest != local {
		return &VersionMismatchError{Local: local, Latest: latest}
	}

	return nil
}
