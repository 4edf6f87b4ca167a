// ABOUTME: Fixed-size block FIFO bridging hardware packets to engine packets
// ABOUTME: Absorbs irregular device packet sizes without allocating in the hot path
package capture

// PacketFifo partitions variable-sized hardware packets into fixed-size
// blocks. All blocks are allocated up front; Push and Consume never allocate
// and never block, so the FIFO is safe to use from the capture goroutine's
// real-time path. It is not safe for concurrent use; a single goroutine owns
// it during capture.
type PacketFifo struct {
	blocks      [][]byte
	blockFrames int
	frameSize   int

	write     int // block index being filled
	read      int // next block to consume
	partial   int // frames written into the write block so far
	available int // complete, unconsumed blocks

	overflowFrames int
}

// NewPacketFifo creates a FIFO of capacity fixed-size blocks, each holding
// blockFrames frames of frameSize bytes.
func NewPacketFifo(blockFrames, frameSize, capacity int) *PacketFifo {
	blocks := make([][]byte, capacity)
	for i := range blocks {
		blocks[i] = make([]byte, blockFrames*frameSize)
	}
	return &PacketFifo{
		blocks:      blocks,
		blockFrames: blockFrames,
		frameSize:   frameSize,
	}
}

// Push partitions frames of raw interleaved audio into blocks. A partial
// trailing write is retained and completed by the next Push. On overflow the
// excess frames are dropped; the count of dropped frames is returned so the
// caller can report it.
func (f *PacketFifo) Push(data []byte, frames int) int {
	return f.push(data, frames)
}

// PushSilence behaves like Push with frames of zeroed audio, without reading
// any source memory. Frame accounting is identical, which keeps timestamp
// math correct across driver-flagged silent regions.
func (f *PacketFifo) PushSilence(frames int) int {
	return f.push(nil, frames)
}

func (f *PacketFifo) push(data []byte, frames int) int {
	offset := 0
	for frames > 0 {
		if f.available == len(f.blocks) {
			f.overflowFrames += frames
			return frames
		}
		n := f.blockFrames - f.partial
		if n > frames {
			n = frames
		}
		dst := f.blocks[f.write][f.partial*f.frameSize : (f.partial+n)*f.frameSize]
		if data == nil {
			for i := range dst {
				dst[i] = 0
			}
		} else {
			copy(dst, data[offset*f.frameSize:(offset+n)*f.frameSize])
		}
		f.partial += n
		offset += n
		frames -= n
		if f.partial == f.blockFrames {
			f.partial = 0
			f.write = (f.write + 1) % len(f.blocks)
			f.available++
		}
	}
	return 0
}

// Consume returns the oldest complete block. The returned slice is reused
// once the FIFO wraps, so callers must finish with it before pushing another
// full cycle of data. Returns nil when no complete block is available.
func (f *PacketFifo) Consume() []byte {
	if f.available == 0 {
		return nil
	}
	block := f.blocks[f.read]
	f.read = (f.read + 1) % len(f.blocks)
	f.available--
	return block
}

// AvailableBlocks returns the number of complete blocks ready to consume.
func (f *PacketFifo) AvailableBlocks() int {
	return f.available
}

// AvailableFrames returns all buffered frames, including the partial block.
func (f *PacketFifo) AvailableFrames() int {
	return f.available*f.blockFrames + f.partial
}

// Capacity returns the number of blocks the FIFO can hold.
func (f *PacketFifo) Capacity() int {
	return len(f.blocks)
}

// BlockFrames returns the fixed number of frames per block.
func (f *PacketFifo) BlockFrames() int {
	return f.blockFrames
}

// OverflowFrames returns the cumulative count of frames dropped on overflow.
func (f *PacketFifo) OverflowFrames() int {
	return f.overflowFrames
}
