package contexthelper

import "context"

// CheckCancellation returns the context error once ctx is cancelled or its deadline passed, nil otherwise.
func CheckCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
