package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	Separator = '|'
	escape    = '\\'
)

// Writer writes pipe-delimited rows. Separators, backslashes and newlines inside a
// field are escaped with a backslash; nothing is quoted.
type Writer struct {
	w *bufio.Writer
}

// NewWriter creates a new pipe writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write writes one row
func (w *Writer) Write(fields []string) error {
	for i, field := range fields {
		if i > 0 {
			if err := w.w.WriteByte(Separator); err != nil {
				return err
			}
		}
		if _, err := w.w.WriteString(escapeField(field)); err != nil {
			return err
		}
	}
	return w.w.WriteByte('\n')
}

// WriteAll writes every row and flushes
func (w *Writer) WriteAll(rows [][]string) error {
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Flush flushes buffered rows
func (w *Writer) Flush() error {
	return w.w.Flush()
}

func escapeField(s string) string {
	if !strings.ContainsAny(s, "|\\\n\r") {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case Separator, escape:
			b.WriteRune(escape)
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Reader reads rows written by Writer
type Reader struct {
	s *bufio.Scanner
}

// NewReader creates a new pipe reader
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &Reader{s: s}
}

// Read returns the next row or io.EOF
func (r *Reader) Read() ([]string, error) {
	for r.s.Scan() {
		line := strings.TrimSuffix(r.s.Text(), "\r")
		if line == "" {
			continue
		}
		return splitLine(line)
	}
	if err := r.s.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// ReadAll returns every remaining row
func (r *Reader) ReadAll() ([][]string, error) {
	var rows [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

func splitLine(line string) ([]string, error) {
	var (
		fields []string
		b      strings.Builder
	)
	escaped := false
	for _, r := range line {
		if escaped {
			switch r {
			case 'n':
				b.WriteRune('\n')
			case 'r':
				b.WriteRune('\r')
			default:
				b.WriteRune(r)
			}
			escaped = false
			continue
		}
		switch r {
		case escape:
			escaped = true
		case Separator:
			fields = append(fields, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if escaped {
		return nil, fmt.Errorf("dangling escape at end of line %q", line)
	}
	return append(fields, b.String()), nil
}

// WriteFile writes header and rows to path. The parent directory must exist.
func WriteFile(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

// ReadFile reads path and returns its header and rows
func ReadFile(path string) (header []string, rows [][]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	all, err := NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	return all[0], all[1:], nil
}
