// infrastructure/unix_socket_notifier.go
package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/vitovidale/video-ingest-service/domain"
)

const DefaultLegacySocketPath = "/tmp/videoprocd.sock"

// NotifyError is reported on the notifier's error channel.
type NotifyError struct {
	VideoID string
	Err     error
}

func (e NotifyError) Error() string {
	return fmt.Sprintf("legacy notify %s: %v", e.VideoID, e.Err)
}

func (e NotifyError) Unwrap() error { return e.Err }

// UnixSocketNotifier pokes the legacy processing daemon by writing the raw
// video id to its domain socket. Delivery is not guaranteed and never affects
// the caller.
type UnixSocketNotifier struct {
	path    string
	timeout time.Duration
	logger  *slog.Logger
	errs    chan NotifyError
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

var _ domain.NotificationService = (*UnixSocketNotifier)(nil)

func NewUnixSocketNotifier(path string, logger *slog.Logger) *UnixSocketNotifier {
	if path == "" {
		path = DefaultLegacySocketPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UnixSocketNotifier{
		path:    path,
		timeout: 2 * time.Second,
		logger:  logger,
		errs:    make(chan NotifyError, 64),
	}
}

// Errors exposes delivery failures. Reports are dropped when nobody reads.
func (n *UnixSocketNotifier) Errors() <-chan NotifyError {
	return n.errs
}

// Notify returns immediately; the write happens in the background.
func (n *UnixSocketNotifier) Notify(_ context.Context, videoID string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.send(videoID); err != nil {
			n.logger.Warn("legacy processor notification failed", "video_id", videoID, "error", err)
			select {
			case n.errs <- NotifyError{VideoID: videoID, Err: err}:
			default:
			}
		}
	}()
}

func (n *UnixSocketNotifier) send(videoID string) error {
	conn, err := net.DialTimeout("unix", n.path, n.timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.SetWriteDeadline(time.Now().Add(n.timeout)); err != nil {
		return err
	}
	_, err = conn.Write([]byte(videoID))
	return err
}

// Close waits for in-flight notifications and closes the error channel.
func (n *UnixSocketNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	n.wg.Wait()
	close(n.errs)
	return nil
}

// NoopNotifier is used when the legacy channel is disabled.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, string) {}
