package driver

import "bytes"

// lineBuffer is a circular buffer for serial input that hands out complete
// lines. Both \n and \r terminate a line; empty lines are dropped.
type lineBuffer struct {
	buf   []byte
	read  int
	write int
	size  int
}

func newLineBuffer(capacity int) *lineBuffer {
	return &lineBuffer{
		buf:  make([]byte, capacity),
		size: capacity,
	}
}

// Write appends data and returns how many bytes fit
func (f *lineBuffer) Write(data []byte) int {
	written := 0
	for _, b := range data {
		nextWrite := (f.write + 1) % f.size
		if nextWrite == f.read {
			// Buffer full
			break
		}
		f.buf[f.write] = b
		f.write = nextWrite
		written++
	}
	return written
}

// Available returns the number of bytes buffered
func (f *lineBuffer) Available() int {
	if f.write >= f.read {
		return f.write - f.read
	}
	return f.size - f.read + f.write
}

// Free returns the number of bytes that can still be written
func (f *lineBuffer) Free() int {
	return f.size - f.Available() - 1
}

// data returns buffered bytes as one contiguous slice
func (f *lineBuffer) data() []byte {
	if f.read <= f.write {
		return f.buf[f.read:f.write]
	}
	result := make([]byte, f.Available())
	firstLen := f.size - f.read
	copy(result, f.buf[f.read:])
	copy(result[firstLen:], f.buf[:f.write])
	return result
}

// Pop removes n bytes from the front
func (f *lineBuffer) Pop(n int) {
	for i := 0; i < n && f.read != f.write; i++ {
		f.read = (f.read + 1) % f.size
	}
}

// Lines removes and returns every complete line. A full buffer with no
// terminator is returned as a single line so reading can continue.
func (f *lineBuffer) Lines() []string {
	var lines []string
	data := f.data()
	consumed := 0
	for {
		idx := bytes.IndexAny(data[consumed:], "\r\n")
		if idx < 0 {
			break
		}
		if idx > 0 {
			lines = append(lines, string(data[consumed:consumed+idx]))
		}
		consumed += idx + 1
	}
	if consumed == 0 && f.Free() == 0 {
		lines = append(lines, string(data))
		consumed = len(data)
	}
	f.Pop(consumed)
	return lines
}
