package fetch

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/temoto/robotstxt"

	"github.com/allaspectsdev/webdog/internal/version"
)

// robotsAgent is the product token evaluated against robots.txt groups.
const robotsAgent = "WebDog"

// robotsCache resolves and memoizes per-origin robots.txt policies. A nil
// cached policy means the file could not be fetched or parsed; the origin
// is then treated as allow-all.
type robotsCache struct {
	client  *http.Client
	timeout time.Duration

	mu      sync.Mutex
	origins map[string]*robotstxt.RobotsData
}

func newRobotsCache(client *http.Client, timeout time.Duration) *robotsCache {
	return &robotsCache{
		client:  client,
		timeout: timeout,
		origins: make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether the target may be fetched under its origin's
// robots.txt policy. The policy is fetched at most once per origin and
// cached for the life of the process.
func (r *robotsCache) Allowed(ctx context.Context, target *url.URL) bool {
	origin := target.Scheme + "://" + target.Host

	r.mu.Lock()
	data, seen := r.origins[origin]
	r.mu.Unlock()

	if !seen {
		data = r.resolve(ctx, origin)
		r.mu.Lock()
		r.origins[origin] = data
		r.mu.Unlock()
	}

	if data == nil {
		return true
	}
	return data.TestAgent(target.RequestURI(), robotsAgent)
}

// resolve fetches and parses origin's robots.txt under its own short
// timeout. Unreachable or unparseable files yield nil (allow-all), as do
// server errors; only a served policy can restrict fetching.
func (r *robotsCache) resolve(ctx context.Context, origin string) *robotstxt.RobotsData {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := r.client.Do(req)
	if err != nil {
		log.Debug().Str("origin", origin).Err(err).Msg("robots.txt unreachable, defaulting to allow")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil
	}

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		log.Debug().Str("origin", origin).Err(err).Msg("robots.txt unparseable, defaulting to allow")
		return nil
	}
	return data
}
