package pipeline

import (
	"image"
	"sync"

	"netimage/internal/decode"
	"netimage/internal/metrics"
)

// Sink receives the outcome of a request. Exactly one method is called,
// exactly once, on a worker goroutine.
type Sink interface {
	OnRaster(img image.Image)
	OnAnimated(anim *decode.Animation)
	OnError(err error)
}

// SinkFuncs adapts plain functions to Sink. Nil fields are skipped.
type SinkFuncs struct {
	Raster   func(image.Image)
	Animated func(*decode.Animation)
	Error    func(error)
}

func (s SinkFuncs) OnRaster(img image.Image) {
	if s.Raster != nil {
		s.Raster(img)
	}
}

func (s SinkFuncs) OnAnimated(anim *decode.Animation) {
	if s.Animated != nil {
		s.Animated(anim)
	}
}

func (s SinkFuncs) OnError(err error) {
	if s.Error != nil {
		s.Error(err)
	}
}

// Result is one terminal outcome. Exactly one field is set.
type Result struct {
	Raster   image.Image
	Animated *decode.Animation
	Err      error
}

// ChanSink delivers the outcome on a channel, for callers that want to
// wait synchronously.
type ChanSink chan Result

// NewChanSink returns a sink buffered for its single delivery, so the
// worker never blocks on a slow reader.
func NewChanSink() ChanSink {
	return make(ChanSink, 1)
}

func (c ChanSink) OnRaster(img image.Image)          { c <- Result{Raster: img} }
func (c ChanSink) OnAnimated(anim *decode.Animation) { c <- Result{Animated: anim} }
func (c ChanSink) OnError(err error)                 { c <- Result{Err: err} }

// onceSink forwards at most one delivery to the wrapped sink.
type onceSink struct {
	once  sync.Once
	inner Sink
}

func (s *onceSink) raster(img image.Image) {
	s.once.Do(func() {
		metrics.DeliveriesTotal.WithLabelValues("raster").Inc()
		s.inner.OnRaster(img)
	})
}

func (s *onceSink) animated(anim *decode.Animation) {
	s.once.Do(func() {
		metrics.DeliveriesTotal.WithLabelValues("animated").Inc()
		s.inner.OnAnimated(anim)
	})
}

func (s *onceSink) fail(err error) {
	s.once.Do(func() {
		metrics.DeliveriesTotal.WithLabelValues("error").Inc()
		s.inner.OnError(err)
	})
}
