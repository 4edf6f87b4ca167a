// ABOUTME: Low-latency audio capture engine package
// ABOUTME: Negotiates device formats and streams fixed-size packets to a consumer
// Package capture implements a low-latency audio capture engine.
//
// A Stream owns one capture device for its lifetime and drives the
// Open -> Start -> Stop -> Close lifecycle. During capture, a dedicated
// goroutine waits on the device's data-ready signal, drains all available
// hardware packets per wake, buffers them through a block FIFO (converting
// sample formats when the device could not match the requested format), and
// invokes the consumer callback once per fully assembled packet.
//
// The engine is backend-agnostic: anything satisfying the Device contract
// (miniaudio, PortAudio, a fake for tests) can be captured from.
//
// Example:
//
//	dev := fake.NewDevice("mic-0")
//	stream, err := capture.NewStream(dev, audio.Format{
//	    SampleRate: 48000,
//	    Channels:   1,
//	    BitDepth:   16,
//	    Layout:     audio.LayoutMono,
//	}, capture.Options{})
//	if err != nil { ... }
//	if outcome := stream.Open(); outcome != capture.OpenSuccess { ... }
//	stream.Start(consumer)
//	...
//	stream.Stop()
//	stream.Close()
package capture
