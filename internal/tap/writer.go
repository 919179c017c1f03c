package tap

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-usb-serial-bridge/internal/hub"
	"github.com/kstaniek/go-usb-serial-bridge/internal/metrics"
)

// startWriter launches the goroutine pushing hub records to a single client connection.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			s.forget(cl)
			s.totalDisconnected.Add(1)
			logger.Info("monitor_disconnected")
		}()
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		buf := make([]byte, 0, 4096)
		pending := 0
		flush := func() error {
			if pending == 0 {
				return nil
			}
			n := pending
			_, err := conn.Write(buf)
			buf, pending = buf[:0], 0
			if err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return wrap
			}
			metrics.AddTapTx(n)
			return nil
		}
		for {
			select {
			case r := <-cl.Out:
				buf = r.AppendText(buf)
				pending++
				if pending >= s.batchSize {
					if err := flush(); err != nil {
						return
					}
				}
			case <-t.C:
				if err := flush(); err != nil {
					return
				}
			case <-cl.Closed:
				_ = flush()
				return
			case <-ctxDone:
				_ = flush()
				return
			}
		}
	}()
}
