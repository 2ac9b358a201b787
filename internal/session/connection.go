package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/bainblan/Whos-There/internal/metrics"
	"github.com/bainblan/Whos-There/internal/protocol"
	"github.com/bainblan/Whos-There/internal/sensor"
	"github.com/bainblan/Whos-There/internal/storage"
)

// connection is one open sensor stream and its read loop.
type connection struct {
	gen     uint64
	name    string
	stream  io.ReadCloser
	decoder *protocol.Decoder
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// Connect opens the sensor stream and starts decoding it. Every DataBatch
// is validated like a finished attempt.
func (c *Controller) Connect(ctx context.Context, dialer sensor.Dialer) error {
	c.mu.Lock()
	if err := c.checkConnectLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.connecting = true
	c.mu.Unlock()

	stream, dialErr := dialer.Dial(ctx)

	c.mu.Lock()
	c.connecting = false
	if dialErr != nil {
		err := fmt.Errorf("%w: %w", ErrConnectionFailure, dialErr)
		c.enqueueLocked(Notification{Kind: NotifyConnectionFailed, Err: err})
		c.mu.Unlock()
		c.flush()
		c.logger.Warn().Err(dialErr).Str("sensor", dialer.String()).Msg("Sensor connection failed")
		return err
	}
	// A capture may have started while dialing
	if err := c.checkConnectLocked(); err != nil {
		c.mu.Unlock()
		_ = stream.Close()
		return err
	}

	c.gen++
	connCtx, cancel := context.WithCancel(context.Background())
	conn := &connection{
		gen:     c.gen,
		name:    dialer.String(),
		stream:  stream,
		decoder: c.newDecoder(),
		ctx:     connCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.conn = conn
	c.enqueueLocked(Notification{Kind: NotifyConnected})
	c.setAccessLocked(AccessNone, nil, "")
	c.mu.Unlock()
	c.flush()

	metrics.SensorConnected.Set(1)
	c.logger.Info().Str("sensor", conn.name).Msg("Sensor connected")

	go c.readLoop(conn)
	return nil
}

func (c *Controller) checkConnectLocked() error {
	if c.mode != ModeIdle {
		return fmt.Errorf("%w: cannot connect while %s", ErrBusy, c.mode)
	}
	if c.conn != nil || c.connecting {
		return ErrAlreadyConnected
	}
	return nil
}

// Disconnect closes the sensor stream and waits for its read loop to
// exit. It must not be called from a listener.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.conn = nil
	conn.decoder.Reset()
	conn.cancel()
	c.enqueueLocked(Notification{Kind: NotifyDisconnected})
	c.mu.Unlock()

	// Closing the stream unblocks the pending Read
	err := conn.stream.Close()
	<-conn.done

	metrics.SensorConnected.Set(0)
	c.logger.Info().Str("sensor", conn.name).Msg("Sensor disconnected")
	c.flush()

	if err != nil && !isClosedErr(err) {
		return fmt.Errorf("failed to close sensor stream: %w", err)
	}
	return nil
}

// Done returns a channel closed when the current connection's read loop
// exits. It is already closed when not connected.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return closedChan
	}
	return c.conn.done
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (c *Controller) readLoop(conn *connection) {
	defer close(conn.done)

	buf := make([]byte, c.readBufferSize)
	for {
		n, err := conn.stream.Read(buf)
		if n > 0 {
			c.handleChunk(conn, buf[:n])
		}
		if err != nil {
			c.readFailed(conn, err)
			return
		}
	}
}

// handleChunk decodes a chunk from conn. Chunks from a connection that has
// since been torn down are dropped.
func (c *Controller) handleChunk(conn *connection, chunk []byte) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	events, err := conn.decoder.Feed(chunk)
	c.mu.Unlock()

	for _, de := range protocol.DecodeErrors(err) {
		metrics.DecodeErrorsTotal.Inc()
		c.logger.Warn().Err(de.Err).Str("line", de.Line).Msg("Dropped sensor line")
		c.notify(Notification{Kind: NotifyDecodeError, Err: de})
	}

	for _, ev := range events {
		metrics.StreamEventsTotal.WithLabelValues(ev.Kind.String()).Inc()
		switch ev.Kind {
		case protocol.PulseOn:
			metrics.KnocksTotal.WithLabelValues(string(storage.SourceSensor)).Inc()
			c.notify(Notification{Kind: NotifyPulse, Pulse: true})
		case protocol.PulseOff:
			c.notify(Notification{Kind: NotifyPulse, Pulse: false})
		case protocol.DataBatch:
			if conn.ctx.Err() != nil {
				return
			}
			// Errors are already logged and notified
			_, _ = c.evaluate(conn.ctx, ev.Intervals, storage.SourceSensor)
		}
	}
}

// readFailed tears down conn after its stream returned err. EOF is an
// orderly disconnect; anything else is a connection failure.
func (c *Controller) readFailed(conn *connection, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// Disconnect closed the stream
		c.mu.Unlock()
		return
	}
	c.conn = nil
	conn.decoder.Reset()
	conn.cancel()

	if errors.Is(err, io.EOF) {
		c.enqueueLocked(Notification{Kind: NotifyDisconnected})
	} else {
		c.enqueueLocked(Notification{Kind: NotifyConnectionFailed, Err: fmt.Errorf("%w: %w", ErrConnectionFailure, err)})
	}
	c.mu.Unlock()

	_ = conn.stream.Close()
	metrics.SensorConnected.Set(0)
	if errors.Is(err, io.EOF) {
		c.logger.Info().Str("sensor", conn.name).Msg("Sensor closed the stream")
	} else {
		c.logger.Warn().Err(err).Str("sensor", conn.name).Msg("Sensor read failed")
	}
	c.flush()
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed)
}
