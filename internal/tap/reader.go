package tap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-usb-serial-bridge/internal/hub"
	"github.com/kstaniek/go-usb-serial-bridge/internal/metrics"
)

// startReader discards anything a monitor sends and closes the client when
// the connection goes away. Monitors are read-only.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cl.Close()
		buf := make([]byte, 256)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			_, err := conn.Read(buf)
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					select {
					case <-ctxDone:
						return
					case <-cl.Closed:
						return
					default:
						continue
					}
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				logger.Debug("monitor_read_error", "error", wrap)
				return
			}
		}
	}()
}
