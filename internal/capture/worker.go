package capture

import "context"

// Outcome identifies the first stage of a capture cycle that failed.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeDequeueFailed
	OutcomeConvertIntermediateFailed
	OutcomeRequeueFailed
	OutcomeConvertOutputFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeDequeueFailed:
		return "dequeue failed"
	case OutcomeConvertIntermediateFailed:
		return "intermediate conversion failed"
	case OutcomeRequeueFailed:
		return "requeue failed"
	case OutcomeConvertOutputFailed:
		return "output conversion failed"
	}
	return "unknown outcome"
}

// result carries one worker's outcome across the join barrier.
type result struct {
	outcome Outcome
	err     error
}

// captureCycle runs one dequeue → convert → requeue → convert cycle,
// writing the finished RGB frame into dst (exactly Height*Width*3
// bytes). It never panics across its goroutine boundary; every failure
// comes back as a typed outcome.
//
// The only state it touches outside its own stack is dst and this
// camera's buffer pool, so concurrent cycles on distinct cameras with
// disjoint destinations need no locking.
func (c *Camera) captureCycle(ctx context.Context, dst []byte) result {
	intermediate := make([]byte, c.Width*c.Height*4)

	buf, err := c.dev.Dequeue(ctx)
	if err != nil {
		return result{OutcomeDequeueFailed, err}
	}

	convErr := c.conv.ToIntermediate(buf.Data, c.Width, c.Height, c.Format, intermediate)

	// The buffer goes back to the pool no matter how conversion went;
	// a conversion failure must not starve the pool.
	requeueErr := c.dev.Requeue(buf.Index)

	if convErr != nil {
		if requeueErr != nil {
			c.log.Warn().
				Str("device", c.Device).
				Err(requeueErr).
				Msg("Requeue failed after conversion failure")
		}
		return result{OutcomeConvertIntermediateFailed, convErr}
	}
	if requeueErr != nil {
		return result{OutcomeRequeueFailed, requeueErr}
	}

	if err := c.conv.ToOutput(intermediate, c.Width, c.Height, dst); err != nil {
		return result{OutcomeConvertOutputFailed, err}
	}
	return result{OutcomeSuccess, nil}
}
