package proxy

import (
	"context"
	"io"
)

// streamPassthrough copies upstream bytes to w unchanged until EOF or
// cancellation. Used for errors, non-chat/generate paths, and any
// non-translated response.
func streamPassthrough(ctx context.Context, w io.Writer, upstream io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := upstream.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if f, ok := w.(flusher); ok {
				f.Flush()
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
