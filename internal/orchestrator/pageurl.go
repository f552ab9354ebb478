package orchestrator

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// PageURL returns base with exactly one page parameter set to page. Every other
// query parameter keeps its original encoding and order.
func PageURL(base, param string, page int) (string, error) {
	if param == "" {
		return "", fmt.Errorf("page parameter name is required")
	}
	if page < 1 {
		return "", fmt.Errorf("page must be >= 1, got %d", page)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid search url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("search url must be absolute: %q", base)
	}

	var kept []string
	if u.RawQuery != "" {
		for _, part := range strings.Split(u.RawQuery, "&") {
			if part == "" {
				continue
			}
			key, _, _ := strings.Cut(part, "=")
			if name, err := url.QueryUnescape(key); err == nil && name == param {
				continue
			}
			kept = append(kept, part)
		}
	}
	kept = append(kept, url.QueryEscape(param)+"="+strconv.Itoa(page))
	u.RawQuery = strings.Join(kept, "&")
	return u.String(), nil
}
