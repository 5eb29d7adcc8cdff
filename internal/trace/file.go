package trace

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/spf13/afero"

	"blksched/internal/errors"
	"blksched/internal/fs"
	"blksched/internal/sched"
)

// One event per line, tab-separated:
// <unix-nanos> <kind> <queue> <device> <sector> <nr> <dir> <err>
const fieldCount = 8

var kindNames = func() map[string]sched.EventKind {
	m := make(map[string]sched.EventKind)
	for k := sched.EvInsert; k <= sched.EvBarrier; k++ {
		m[k.String()] = k
	}
	return m
}()

// Writer encodes events to a file, compressing according to the file
// extension: .gz selects parallel gzip, .zst selects zstd, anything else is
// written plain.
type Writer struct {
	file    afero.File
	comp    io.WriteCloser // nil when writing plain
	buf     *bufio.Writer
	written uint64
}

// NewWriter creates (truncating) the trace file at path.
func NewWriter(path string) (*Writer, error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, errors.NewDeviceError(errors.ErrCodeTraceIO,
			fmt.Sprintf("cannot create trace file %s", path)).WithCause(err)
	}

	w := &Writer{file: f}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		w.comp = pgzip.NewWriter(f)
		w.buf = bufio.NewWriter(w.comp)
	case ".zst":
		zw, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, errors.NewDeviceError(errors.ErrCodeTraceIO,
				"cannot initialize zstd trace compression").WithCause(err)
		}
		w.comp = zw
		w.buf = bufio.NewWriter(zw)
	default:
		w.buf = bufio.NewWriter(f)
	}
	return w, nil
}

// Write encodes one event.
func (w *Writer) Write(ev sched.Event) error {
	errFlag := 0
	if ev.Error {
		errFlag = 1
	}
	_, err := fmt.Fprintf(w.buf, "%d\t%s\t%s\t%d\t%d\t%d\t%s\t%d\n",
		ev.Time.UnixNano(), ev.Kind, ev.Queue, ev.Device, ev.Sector, ev.Nr, ev.Dir, errFlag)
	if err != nil {
		return errors.NewDeviceError(errors.ErrCodeTraceIO, "trace write failed").WithCause(err)
	}
	w.written++
	return nil
}

// WriteAll encodes a batch of events.
func (w *Writer) WriteAll(events []sched.Event) error {
	for _, ev := range events {
		if err := w.Write(ev); err != nil {
			return err
		}
	}
	return nil
}

// Written returns the number of events encoded so far.
func (w *Writer) Written() uint64 { return w.written }

// Close flushes and closes the compressor chain and the file.
func (w *Writer) Close() error {
	var result *multierror.Error
	if err := w.buf.Flush(); err != nil {
		result = multierror.Append(result, err)
	}
	if w.comp != nil {
		if err := w.comp.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := w.file.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// ReadFile decodes every event in a trace file, transparently decompressing
// by extension.
func ReadFile(path string) ([]sched.Event, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.NewDeviceError(errors.ErrCodeTraceIO,
			fmt.Sprintf("cannot open trace file %s", path)).WithCause(err)
	}
	defer f.Close()

	var r io.Reader = f
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		gr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.NewDeviceError(errors.ErrCodeTraceIO,
				"cannot read gzip trace").WithCause(err)
		}
		defer gr.Close()
		r = gr
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, errors.NewDeviceError(errors.ErrCodeTraceIO,
				"cannot read zstd trace").WithCause(err)
		}
		defer zr.Close()
		r = zr
	}

	var events []sched.Event
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		ev, err := parseLine(text)
		if err != nil {
			return nil, errors.NewDeviceError(errors.ErrCodeTraceFormat,
				fmt.Sprintf("%s:%d: %v", path, line, err)).
				WithDetails("The file is not a blksched trace or is truncated")
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.NewDeviceError(errors.ErrCodeTraceIO,
			fmt.Sprintf("reading %s", path)).WithCause(err)
	}
	return events, nil
}

func parseLine(text string) (sched.Event, error) {
	var ev sched.Event
	parts := strings.Split(text, "\t")
	if len(parts) != fieldCount {
		return ev, fmt.Errorf("want %d fields, got %d", fieldCount, len(parts))
	}

	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ev, fmt.Errorf("bad timestamp %q", parts[0])
	}
	ev.Time = time.Unix(0, nanos)

	kind, ok := kindNames[parts[1]]
	if !ok {
		return ev, fmt.Errorf("unknown event kind %q", parts[1])
	}
	ev.Kind = kind
	ev.Queue = parts[2]

	dev, err := strconv.ParseUint(parts[3], 10, 32)
	if err != nil {
		return ev, fmt.Errorf("bad device %q", parts[3])
	}
	ev.Device = sched.DeviceID(dev)

	if ev.Sector, err = strconv.ParseUint(parts[4], 10, 64); err != nil {
		return ev, fmt.Errorf("bad sector %q", parts[4])
	}
	nr, err := strconv.ParseUint(parts[5], 10, 32)
	if err != nil {
		return ev, fmt.Errorf("bad sector count %q", parts[5])
	}
	ev.Nr = uint32(nr)

	switch parts[6] {
	case "read":
		ev.Dir = sched.DirRead
	case "write":
		ev.Dir = sched.DirWrite
	default:
		return ev, fmt.Errorf("bad direction %q", parts[6])
	}
	ev.Error = parts[7] == "1"
	return ev, nil
}
