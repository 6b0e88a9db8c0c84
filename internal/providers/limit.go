package providers

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limited wraps a Completer with a token-bucket rate limiter.
type Limited struct {
	next    Completer
	limiter *rate.Limiter
}

// Limit returns c limited to rps requests per second with the given burst.
// A non-positive rps returns c unchanged.
func Limit(c Completer, rps float64, burst int) Completer {
	if rps <= 0 {
		return c
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: c, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *Limited) Name() string { return l.next.Name() }

// Complete waits for a token, then forwards the request.
func (l *Limited) Complete(ctx context.Context, req Request) (Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("rate limiter: %w", err)
	}
	return l.next.Complete(ctx, req)
}
