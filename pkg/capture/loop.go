// ABOUTME: Dedicated capture goroutine that drains the device endpoint buffer
// ABOUTME: Implements stop-priority waiting, glitch detection and packet delivery
package capture

import (
	"errors"
	"math"
	"runtime"
	"time"

	"github.com/capturekit/capture-go/pkg/audio"
)

// run is the capture goroutine body. It waits on the backend ready signal,
// drains every available device packet into the FIFO, and delivers
// fixed-size packets to the consumer. The stop channel always wins over
// pending data.
func (s *Stream) run() {
	defer close(s.done)

	// Audio delivery is latency sensitive; keep the goroutine pinned so
	// the runtime never migrates it mid-callback.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s.setupFifo()

	s.recordStart = time.Now()
	s.lastCapture = time.Time{}
	s.lastDevicePosition = 0
	s.expectedNextDevicePosition = 0
	s.acquiredFrames = 0
	s.minTsDiff = time.Duration(math.MaxInt64)
	s.maxTsDiff = time.Duration(math.MinInt64)

	for {
		// Check stop first so a burst of ready signals cannot starve
		// shutdown.
		select {
		case <-s.stopC:
			return
		default:
		}

		select {
		case <-s.stopC:
			return
		case _, ok := <-s.readyC:
			if !ok {
				// The backend closed the signal channel, which it only
				// does on an unrecoverable wait failure.
				s.logger.Error().Msg("ready signal lost, capture aborted")
				s.errorOnce.Do(s.sink.OnError)
				return
			}
			s.pullPackets()
		}
	}
}

// setupFifo sizes the packet FIFO so it can absorb at least two full
// endpoint buffers, or two packets when the endpoint buffer is smaller
// than a packet. Imperfect conversion ratios get one extra block of
// headroom for carried remainder frames.
func (s *Stream) setupFifo() {
	frames := 2 * s.deviceBufferFrames
	if min := 2 * s.packetFrames; frames < min {
		frames = min
	}
	capacity := frames / s.packetFrames
	if s.converter != nil && s.converter.Imperfect() {
		capacity++
	}
	s.fifo = NewPacketFifo(s.packetFrames, s.frameBytes, capacity)
	s.logger.Debug().
		Int("block_frames", s.packetFrames).
		Int("capacity_blocks", capacity).
		Msg("packet fifo created")
}

// pullPackets drains the device until no complete packet remains, then
// delivers every full FIFO block to the consumer.
func (s *Stream) pullPackets() {
	rate := s.negotiated.SampleRate

	for {
		framesAvailable, err := s.dev.NextPacketSizeFrames()
		if err != nil {
			s.logger.Error().Err(err).Msg("next packet size failed")
			return
		}
		if framesAvailable == 0 {
			break
		}

		data, frames, flags, devicePosition, captureTime, err := s.dev.GetBuffer()
		if errors.Is(err, ErrOutOfOrder) {
			// A previous release was lost. Release what is still acquired,
			// which is the frame count of the last successful acquisition,
			// and retry once; a second failure ends this drain pass.
			s.logger.Warn().Msg("device buffer out of order, releasing and retrying")
			if rerr := s.dev.ReleaseBuffer(s.acquiredFrames); rerr != nil {
				s.logger.Error().Err(rerr).Msg("release of stale buffer failed")
				return
			}
			data, frames, flags, devicePosition, captureTime, err = s.dev.GetBuffer()
		}
		if errors.Is(err, ErrBufferEmpty) {
			// The device reported a pending packet but handed us nothing.
			// Not an error, just nothing to do this pass.
			return
		}
		if err != nil {
			s.logger.Error().Err(err).Msg("get buffer failed")
			return
		}
		s.acquiredFrames = frames

		if flags&FlagTimestampError != 0 {
			s.tracker.RecordTimestampError(time.Since(s.recordStart))
			// The device timestamp is unusable; synthesize a value just
			// past the previous packet to preserve ordering.
			captureTime = s.lastCapture.Add(time.Microsecond)
		}

		if !s.lastCapture.IsZero() {
			diff := captureTime.Sub(s.lastCapture)
			if diff <= 0 {
				captureTime = s.lastCapture.Add(time.Microsecond)
				diff = time.Microsecond
			}
			if diff < s.minTsDiff {
				s.minTsDiff = diff
			}
			if diff > s.maxTsDiff {
				s.maxTsDiff = diff
			}
		}
		s.lastCapture = captureTime

		s.trackPosition(devicePosition, frames, flags, rate)

		// The oldest queued frame was captured one FIFO's worth of audio
		// before this buffer.
		captureTime = captureTime.Add(-audio.FramesToDuration(s.fifo.AvailableFrames(), rate))

		var dropped int
		if flags&FlagSilent != 0 {
			dropped = s.fifo.PushSilence(frames)
		} else {
			dropped = s.fifo.Push(data[:frames*s.frameBytes], frames)
		}
		if dropped > 0 {
			dur := audio.FramesToDuration(dropped, rate)
			s.logger.Warn().Int("frames", dropped).Msg("fifo overflow, frames dropped")
			s.tracker.UpdateStats(dur)
		}

		if err := s.dev.ReleaseBuffer(frames); err != nil {
			s.logger.Error().Err(err).Msg("release buffer failed")
			return
		}
		s.acquiredFrames = 0

		s.deliver(captureTime)
	}
}

// trackPosition compares the device position against the end of the
// previous chunk and records any gap as a glitch. A changed position starts
// a new chunk; an unchanged position continues the previous one, so only
// the expectation advances. Every packet counts toward the periodic flush
// cadence, but the discontinuity flag is undefined until the device
// position starts moving.
func (s *Stream) trackPosition(devicePosition uint64, frames int, flags BufferFlags, rate int) {
	s.tracker.Log(devicePosition > 0 && flags&FlagDataDiscontinuity != 0)

	if devicePosition != s.lastDevicePosition {
		if s.expectedNextDevicePosition > 0 && devicePosition > s.expectedNextDevicePosition {
			gap := devicePosition - s.expectedNextDevicePosition
			s.tracker.UpdateStats(audio.FramesToDuration(int(gap), rate))
		}
		s.lastDevicePosition = devicePosition
		s.expectedNextDevicePosition = devicePosition + uint64(frames)
	} else {
		s.expectedNextDevicePosition += uint64(frames)
	}
}

// deliver hands every complete packet to the consumer, advancing the
// capture timestamp by one packet per delivery.
func (s *Stream) deliver(captureTime time.Time) {
	volume := s.agcCache.Volume()

	if s.converter != nil {
		step := audio.FramesToDuration(s.outPacketFrames, s.requested.SampleRate)
		pkt := audio.Packet{Format: s.requested, Frames: s.outPacketFrames}
		for {
			// With an imperfect ratio the converter may need part of a
			// second block to fill one output packet; keep one block in
			// reserve so it never runs dry mid-conversion.
			if s.converter.Imperfect() && s.fifo.AvailableBlocks() <= 1 {
				break
			}
			if !s.converter.Convert(&pkt) {
				break
			}
			s.sink.OnData(&pkt, captureTime, volume)
			captureTime = captureTime.Add(step)
		}
		return
	}

	step := audio.FramesToDuration(s.packetFrames, s.negotiated.SampleRate)
	for s.fifo.AvailableBlocks() > 0 {
		pkt := audio.Packet{
			Data:   s.fifo.Consume(),
			Frames: s.packetFrames,
			Format: s.negotiated,
		}
		s.sink.OnData(&pkt, captureTime, volume)
		captureTime = captureTime.Add(step)
	}
}
