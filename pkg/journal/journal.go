// Package journal records capture session events (lifecycle transitions,
// applied settings, frame outcomes) as a stream of CBOR items so a session can
// be replayed after the fact with the journal command.
package journal

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Kind classifies an event.
type Kind uint8

const (
	KindSession Kind = iota + 1
	KindTransition
	KindSetting
	KindFrame
)

func (k Kind) String() string {
	switch k {
	case KindSession:
		return "session"
	case KindTransition:
		return "transition"
	case KindSetting:
		return "setting"
	case KindFrame:
		return "frame"
	default:
		return "unknown"
	}
}

// Event is one journal record. CBOR encoding uses integer keys.
type Event struct {
	Timestamp time.Time `cbor:"1,keyasint"`
	SessionID string    `cbor:"2,keyasint,omitempty"`
	Serial    string    `cbor:"3,keyasint,omitempty"`
	Kind      Kind      `cbor:"4,keyasint"`

	// Transition
	From string `cbor:"5,keyasint,omitempty"`
	To   string `cbor:"6,keyasint,omitempty"`

	// Setting
	Setting string `cbor:"7,keyasint,omitempty"`
	Value   string `cbor:"8,keyasint,omitempty"`

	// Frame
	FrameIndex *int   `cbor:"9,keyasint,omitempty"`
	Status     int    `cbor:"10,keyasint,omitempty"`
	Path       string `cbor:"11,keyasint,omitempty"`

	Message string `cbor:"12,keyasint,omitempty"`
	Error   string `cbor:"13,keyasint,omitempty"`
}

// Logger receives journal events. Implementations must be safe for
// concurrent use.
type Logger interface {
	Log(event Event)
}

// Nop discards all events.
type Nop struct{}

// Log discards the event.
func (Nop) Log(Event) {}

var _ Logger = Nop{}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("journal: create CBOR encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("journal: create CBOR decoder mode: %v", err))
	}
}

// FileLogger appends events to a file.
type FileLogger struct {
	mu      sync.Mutex
	file    *os.File
	encoder *cbor.Encoder
	closed  bool
	// failed is set after the first encode error; later events are dropped.
	failed error
}

// NewFileLogger opens path for appending, creating it if needed.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "journal: open %s failed", path)
	}
	return &FileLogger{file: f, encoder: encMode.NewEncoder(f)}, nil
}

// Log writes an event. Journal failures never interrupt a capture; the first
// error is kept and returned by Close.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.failed != nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := l.encoder.Encode(event); err != nil {
		l.failed = errors.Wrap(err, "journal: encode event failed")
	}
}

// Close closes the file. It is safe to call more than once.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.file.Close(); err != nil {
		return errors.Wrap(err, "journal: close failed")
	}
	return l.failed
}

var _ Logger = (*FileLogger)(nil)

// Reader streams events from a journal file.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	serial  string
}

// NewReader opens a journal. A non-empty serial restricts Next to events of
// that device (session-level events are always returned).
func NewReader(path, serial string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "journal: open %s failed", path)
	}
	return &Reader{file: f, decoder: decMode.NewDecoder(f), serial: serial}, nil
}

// Next returns the next matching event, or io.EOF.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		if err := r.decoder.Decode(&event); err != nil {
			if err == io.EOF {
				return Event{}, io.EOF
			}
			return Event{}, errors.Wrap(err, "journal: decode event failed")
		}
		if r.serial == "" || event.Serial == "" || event.Serial == r.serial {
			return event, nil
		}
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Recorder is a Logger that keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Log appends the event.
func (r *Recorder) Log(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Multi fans an event out to several loggers.
type Multi []Logger

// Log forwards the event to every non-nil logger.
func (m Multi) Log(event Event) {
	for _, l := range m {
		if l != nil {
			l.Log(event)
		}
	}
}
