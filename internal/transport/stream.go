package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/glare/internal/util"
)

const (
	highWaterMark  = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark   = 64 * 1024  // resume sending when bufferedAmount drops below this
	sendBufferSize = 64         // outgoing message channel capacity
)

// ErrStreamClosed is returned by Stream.Send after the data channel closed.
var ErrStreamClosed = errors.New("data channel closed")

// Stream is a DataChannel with a single-writer goroutine that waits for the
// channel to open and applies bufferedAmount backpressure.
type Stream struct {
	dc *webrtc.DataChannel

	inbox       chan []byte
	drainSignal chan struct{}
	openSignal  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// newStream wires dc's callbacks and starts the writer loop. onOpen runs
// once when the channel opens.
func newStream(parent context.Context, dc *webrtc.DataChannel, log util.Scope, onOpen func(*Stream)) *Stream {
	ctx, cancel := context.WithCancel(parent)
	s := &Stream{
		dc:          dc,
		inbox:       make(chan []byte, sendBufferSize),
		drainSignal: make(chan struct{}, 1),
		openSignal:  make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}

	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() {
			log.Debug("data channel %q open", dc.Label())
			close(s.openSignal)
			if onOpen != nil {
				onOpen(s)
			}
		})
	})
	dc.OnClose(func() {
		log.Debug("data channel %q closed", dc.Label())
		cancel()
	})

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	go s.loop(log)

	return s
}

// Label returns the data channel label.
func (s *Stream) Label() string { return s.dc.Label() }

// Open is closed once the data channel is open.
func (s *Stream) Open() <-chan struct{} { return s.openSignal }

// Done is closed once the data channel or its transport is gone.
func (s *Stream) Done() <-chan struct{} { return s.ctx.Done() }

// OnMessage registers a callback for every inbound message.
func (s *Stream) OnMessage(fn func([]byte)) {
	s.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

// Send enqueues data for transmission. It blocks while the buffer is full.
func (s *Stream) Send(ctx context.Context, data []byte) error {
	select {
	case s.inbox <- data:
		return nil
	case <-s.ctx.Done():
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the data channel.
func (s *Stream) Close() error {
	s.cancel()
	return s.dc.Close()
}

// loop is the single-writer goroutine. It waits for the channel to open,
// then drains the inbox with backpressure awareness.
func (s *Stream) loop(log util.Scope) {
	select {
	case <-s.openSignal:
	case <-s.ctx.Done():
		return
	}

	for {
		select {
		case data := <-s.inbox:
			if s.dc.BufferedAmount() > uint64(highWaterMark) {
				select {
				case <-s.drainSignal:
				case <-s.ctx.Done():
					return
				}
			}

			if err := s.dc.Send(data); err != nil {
				log.Error("failed to send on data channel %q: %v", s.dc.Label(), err)
				s.cancel()
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}
