package audio

import (
	"fmt"
	"time"
)

// ChunkSize returns the byte size of a targetMs window.
func ChunkSize(targetMs, sampleRate, bytesPerSample int) int {
	return targetMs * sampleRate / 1000 * bytesPerSample
}

// Chunker accumulates arbitrary writes and yields fixed-size chunks.
// A Chunker is owned by a single goroutine.
type Chunker struct {
	format Format
	size   int
	buf    []byte
	seq    uint64
}

// NewChunker returns a chunker emitting targetMs windows of format.
func NewChunker(format Format, targetMs int) (*Chunker, error) {
	size := ChunkSize(targetMs, format.SampleRate, format.BytesPerSample())
	if size <= 0 {
		return nil, fmt.Errorf("chunk window %dms at %s is empty", targetMs, format)
	}
	return &Chunker{format: format, size: size}, nil
}

// Size returns the full chunk size in bytes.
func (c *Chunker) Size() int { return c.size }

// Window returns the playback time of a full chunk.
func (c *Chunker) Window() time.Duration {
	return Duration(make([]byte, c.size), c.format)
}

// Buffered returns the number of bytes waiting for a full window.
func (c *Chunker) Buffered() int { return len(c.buf) }

// Add appends data and returns every full chunk now available.
func (c *Chunker) Add(data []byte) []Chunk {
	c.buf = append(c.buf, data...)
	if len(c.buf) < c.size {
		return nil
	}

	chunks := make([]Chunk, 0, len(c.buf)/c.size)
	for len(c.buf) >= c.size {
		chunks = append(chunks, c.emit(c.buf[:c.size]))
		c.buf = c.buf[c.size:]
	}
	// Drop the consumed prefix so the backing array does not grow unbounded.
	c.buf = append([]byte(nil), c.buf...)
	return chunks
}

// Flush returns the partial remainder, if any, and empties the buffer.
func (c *Chunker) Flush() (Chunk, bool) {
	if len(c.buf) == 0 {
		return Chunk{}, false
	}
	chunk := c.emit(c.buf)
	c.buf = nil
	return chunk, true
}

// Reset discards buffered audio.
func (c *Chunker) Reset() {
	c.buf = nil
}

func (c *Chunker) emit(data []byte) Chunk {
	chunk := NewChunk(data, c.format, c.seq)
	c.seq++
	return chunk
}
