package synced

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultRateLimitWait    = 1500 * time.Millisecond
	DefaultRateLimitRetries = 3
)

type RateLimitPolicy struct {
	Wait       time.Duration
	MaxRetries int
}

// RateLimitedDoer retries requests answered with 429 after a fixed wait.
type RateLimitedDoer struct {
	next   Doer
	policy RateLimitPolicy
}

func NewRateLimitedDoer(next Doer, policy RateLimitPolicy) *RateLimitedDoer {
	if policy.Wait <= 0 {
		policy.Wait = DefaultRateLimitWait
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	return &RateLimitedDoer{next: next, policy: policy}
}

var errTooManyRequests = errors.New("too many requests")

func (d *RateLimitedDoer) Do(req *http.Request) (*http.Response, error) {
	var (
		resp     *http.Response
		attempts int
	)

	operation := func() error {
		attempt := req
		if attempts > 0 {
			replay, err := replayRequest(req)
			if err != nil {
				return backoff.Permanent(err)
			}
			attempt = replay
		}
		attempts++

		res, err := d.next.Do(attempt)
		if err != nil {
			return backoff.Permanent(err)
		}
		if res.StatusCode == http.StatusTooManyRequests {
			_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
			_ = res.Body.Close()
			return errTooManyRequests
		}
		resp = res
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.policy.Wait), uint64(d.policy.MaxRetries)),
		req.Context(),
	)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, errTooManyRequests) {
			return nil, fmt.Errorf("%s %s: %w after %d attempts", req.Method, req.URL.Path, ErrRateLimited, attempts)
		}
		return nil, err
	}
	return resp, nil
}

func replayRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("replay request body: %w", err)
	}
	clone.Body = body
	return clone, nil
}
