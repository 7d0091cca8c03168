package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ccnets-team/tradingcore/internal/ratelimit"
)

// RESTClient is a thin, rate-limited wrapper around resty used for both the
// trading REST base (account/positions/orders) and the data REST base
// (bar backfill). Every call acquires a token from the shared REST bucket
// before making the request.
type RESTClient struct {
	http *resty.Client
	rl   *ratelimit.TokenBucket
}

// NewRESTClient builds a REST client with the given auth headers and a
// shared rate limiter.
func NewRESTClient(auth *Auth, rl *ratelimit.TokenBucket) *RESTClient {
	c := resty.New().
		SetTimeout(5 * time.Second).
		SetHeaders(auth.RESTHeaders())
	return &RESTClient{http: c, rl: rl}
}

// GetJSON performs a rate-limited GET and decodes a 2xx JSON body into out.
// Mirrors the original's best-effort semantics: a non-2xx response returns
// its status with ok=false, and a transport failure returns status 0 with
// ok=false, neither as an error, so callers can treat "no data yet" the
// same as "broker unreachable right now".
func (c *RESTClient) GetJSON(ctx context.Context, base, path string, out any) (status int, ok bool, err error) {
	if err := c.rl.Acquire(ctx); err != nil {
		return 0, false, err
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(out).Get(joinURL(base, path))
	if err != nil {
		return 0, false, nil
	}
	if resp.StatusCode()/100 != 2 {
		return resp.StatusCode(), false, nil
	}
	return resp.StatusCode(), true, nil
}

// PostJSON performs a rate-limited POST with a JSON body and decodes a 2xx
// JSON response into out.
func (c *RESTClient) PostJSON(ctx context.Context, base, path string, payload, out any) (status int, ok bool, err error) {
	if err := c.rl.Acquire(ctx); err != nil {
		return 0, false, err
	}
	resp, err := c.http.R().SetContext(ctx).SetBody(payload).SetResult(out).Post(joinURL(base, path))
	if err != nil {
		return 0, false, nil
	}
	if resp.StatusCode()/100 != 2 {
		return resp.StatusCode(), false, nil
	}
	return resp.StatusCode(), true, nil
}

// Delete performs a rate-limited DELETE, returning the HTTP status (0 on a
// transport-level failure).
func (c *RESTClient) Delete(ctx context.Context, base, path string) (status int, err error) {
	if err := c.rl.Acquire(ctx); err != nil {
		return 0, err
	}
	resp, err := c.http.R().SetContext(ctx).Delete(joinURL(base, path))
	if err != nil {
		return 0, nil
	}
	return resp.StatusCode(), nil
}

func joinURL(base, path string) string {
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	return fmt.Sprintf("%s/%s", base, path)
}
