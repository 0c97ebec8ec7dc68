package recorder

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"main/internal/schema"
)

// DirReader reads every journal segment in a directory, in file order,
// as one continuous stream. Next returns io.EOF after the last record
// of the last segment.
type DirReader struct {
	files  []string
	idx    int
	file   *os.File
	reader *Reader
	opts   ReaderOptions
}

// NewDirReader collects the segments under dir with the given prefix.
func NewDirReader(dir, prefix string, opts ReaderOptions) (*DirReader, error) {
	if prefix == "" {
		prefix = defaultFilePrefix
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return &DirReader{files: files, opts: opts}, nil
}

// Next returns the next record across all segments.
func (d *DirReader) Next() (schema.EventHeader, []byte, error) {
	for {
		if d.reader == nil {
			if d.idx >= len(d.files) {
				return schema.EventHeader{}, nil, io.EOF
			}
			file, err := os.Open(d.files[d.idx])
			if err != nil {
				return schema.EventHeader{}, nil, err
			}
			d.idx++
			d.file = file
			d.reader = NewReader(file, d.opts)
		}

		header, payload, err := d.reader.Next()
		if err == io.EOF {
			_ = d.file.Close()
			d.file = nil
			d.reader = nil
			continue
		}
		return header, payload, err
	}
}

// Close releases the currently open segment.
func (d *DirReader) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	d.reader = nil
	return err
}
