// internal/util/util.go
package util

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// DefaultFetchTimeout bounds catalog downloads at startup.
const DefaultFetchTimeout = 10 * time.Second

// FetchJSON downloads url and decodes the JSON body into v.
func FetchJSON(url string, timeout time.Duration, v interface{}) error {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	status, body, err := fasthttp.GetTimeout(nil, url, timeout)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	if status != fasthttp.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", url, status)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
