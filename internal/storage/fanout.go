package storage

import "io"

// fanOut produces n lazy readers over src: a single goroutine copies src
// into an io.MultiWriter across n io.PipeWriters. Each chunk is handed to
// the pipes one after another (io.Pipe's synchronous handoff, no extra
// buffering), so the readers advance together at the slowest reader's
// pace, and every reader must be read to EOF: an abandoned reader blocks
// the producer and with it all the others.
func fanOut(src io.Reader, n int) []io.Reader {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []io.Reader{src}
	}

	readers := make([]io.Reader, n)
	writers := make([]io.Writer, n)
	pipeWriters := make([]*io.PipeWriter, n)
	for i := 0; i < n; i++ {
		pr, pw := io.Pipe()
		readers[i] = pr
		writers[i] = pw
		pipeWriters[i] = pw
	}

	go func() {
		_, err := io.Copy(io.MultiWriter(writers...), src)
		for _, pw := range pipeWriters {
			pw.CloseWithError(err)
		}
	}()

	return readers
}
