package transfer

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// RateLimited wraps r with a token-bucket limiter sized so exactly one
// chunk is admitted per Wait call; chunkSize should match the stream's
// fixed chunk size. If bytesPerSecond is 0 or negative, r is returned
// unwrapped.
func RateLimited(ctx context.Context, r io.Reader, bytesPerSecond int64, chunkSize int) io.Reader {
	if bytesPerSecond <= 0 {
		return r
	}
	return &rateLimitedReader{
		r:       r,
		ctx:     ctx,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), chunkSize),
	}
}

type rateLimitedReader struct {
	r       io.Reader
	ctx     context.Context
	limiter *rate.Limiter
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	select {
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	default:
	}

	n, err := r.r.Read(p)
	if n <= 0 {
		return n, err
	}
	if waitErr := r.limiter.WaitN(r.ctx, n); waitErr != nil {
		return n, waitErr
	}
	return n, err
}
