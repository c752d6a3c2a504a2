// Package compress packs a finished pulse stream into zlib chunks.
//
// The input is read in chunks whose sizes come from a ChunkPolicy; each
// chunk is flushed so a receiver can inflate the stream packet by packet.
package compress

import (
	"compress/zlib"
	"io"
	"math/rand"
	"os"

	"github.com/pkg/errors"
)

// MaxChunk is the largest chunk the default policy produces.
const MaxChunk = 10000

// ChunkPolicy returns the size of the next chunk to read, >= 1.
type ChunkPolicy func() int

// RandomChunks returns sizes uniformly drawn from 1..MaxChunk.
func RandomChunks(seed int64) ChunkPolicy {
	rng := rand.New(rand.NewSource(seed))
	return func() int { return rng.Intn(MaxChunk) + 1 }
}

// FixedChunks always returns n.
func FixedChunks(n int) ChunkPolicy {
	if n < 1 {
		n = 1
	}
	return func() int { return n }
}

// Stats reports the outcome of a compression run.
type Stats struct {
	In     int64
	Out    int64
	Chunks int
}

// Saved returns the number of bytes saved, negative when the output grew.
func (s Stats) Saved() int64 { return s.In - s.Out }

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Stream compresses src into dst.
func Stream(src io.Reader, dst io.Writer, policy ChunkPolicy) (Stats, error) {
	if policy == nil {
		policy = RandomChunks(1)
	}
	var st Stats
	cw := &countingWriter{w: dst}
	zw := zlib.NewWriter(cw)
	buf := make([]byte, MaxChunk)
	for {
		size := policy()
		if size < 1 {
			size = 1
		}
		if size > len(buf) {
			buf = make([]byte, size)
		}
		n, err := io.ReadFull(src, buf[:size])
		if n > 0 {
			if _, werr := zw.Write(buf[:n]); werr != nil {
				return st, errors.Wrap(werr, "compress chunk")
			}
			if ferr := zw.Flush(); ferr != nil {
				return st, errors.Wrap(ferr, "flush chunk")
			}
			st.In += int64(n)
			st.Chunks++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return st, errors.Wrap(err, "read input")
		}
	}
	if err := zw.Close(); err != nil {
		return st, errors.Wrap(err, "close compressor")
	}
	st.Out = cw.n
	return st, nil
}

// File compresses the file at src into dst.
func File(src, dst string, policy ChunkPolicy) (Stats, error) {
	in, err := os.Open(src)
	if err != nil {
		return Stats{}, errors.Wrapf(err, "open %s", src)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return Stats{}, errors.Wrapf(err, "create %s", dst)
	}
	st, err := Stream(in, out, policy)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = errors.Wrapf(cerr, "close %s", dst)
	}
	return st, err
}
