package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrMalformed = errors.New("malformed bytecode")

const wordBytes = 4

// WriteTo writes the canonical binary form: the word count followed by the
// words, both in native byte order.
func (c *Container) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, wordBytes*(len(c.words)+1))
	binary.NativeEndian.PutUint32(buf, uint32(len(c.words)))
	for i, word := range c.words {
		binary.NativeEndian.PutUint32(buf[wordBytes*(i+1):], uint32(word))
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// ReadFrom replaces the code with the binary form read from r. The function
// table is cleared; use Link to attach natives again.
func (c *Container) ReadFrom(r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return int64(len(data)), err
	}
	if len(data) < wordBytes {
		return int64(len(data)), fmt.Errorf("%w: missing word count", ErrMalformed)
	}
	count := int(binary.NativeEndian.Uint32(data))
	if count%InstructionWidth != 0 {
		return int64(len(data)), fmt.Errorf("%w: odd word count %d", ErrMalformed, count)
	}
	if len(data)-wordBytes != count*wordBytes {
		return int64(len(data)), fmt.Errorf("%w: header says %d words, file holds %d bytes of code", ErrMalformed, count, len(data)-wordBytes)
	}

	c.Clear()
	for i := 0; i < count; i++ {
		c.WriteWord(Word(binary.NativeEndian.Uint32(data[wordBytes*(i+1):])))
	}
	return int64(len(data)), nil
}

func (c *Container) Save(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("save bytecode: %w", err)
	}
	if _, err := c.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("save bytecode to '%s': %w", filename, err)
	}
	return f.Close()
}

func (c *Container) Load(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("load bytecode: %w", err)
	}
	defer f.Close()
	if _, err := c.ReadFrom(f); err != nil {
		return fmt.Errorf("load bytecode from '%s': %w", filename, err)
	}
	return nil
}
