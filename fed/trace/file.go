package trace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Header opens every trace file.
type Header struct {
	RunID   string     `cbor:"1,keyasint"`
	Level   TraceLevel `cbor:"2,keyasint"`
	Created time.Time  `cbor:"3,keyasint"`
}

// Entry is one item of the CBOR stream; exactly one field is set.
type Entry struct {
	Header      *Header            `cbor:"1,keyasint,omitempty"`
	Grant       *GrantRecord       `cbor:"2,keyasint,omitempty"`
	Publication *PublicationRecord `cbor:"3,keyasint,omitempty"`
	Delivery    *DeliveryRecord    `cbor:"4,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// FileWriter writes trace entries to a file as a CBOR sequence.
// It is safe for concurrent use from multiple goroutines.
type FileWriter struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
}

// NewFileWriter creates (or truncates) path and writes the header.
func NewFileWriter(path string, header Header) (*FileWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	w := &FileWriter{file: f, encoder: encMode.NewEncoder(f)}
	if err := w.Write(Entry{Header: &header}); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// Write appends one entry.
func (w *FileWriter) Write(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("trace file closed")
	}
	return w.encoder.Encode(e)
}

// Close closes the file. It is safe to call Close multiple times.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// WriteFile dumps a whole trace to path: header, grants, publications, deliveries.
func WriteFile(path string, st *SimulationTrace) error {
	if st == nil {
		return errors.New("nil trace")
	}
	w, err := NewFileWriter(path, Header{RunID: st.RunID, Level: st.Config.Level, Created: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("creating trace file: %w", err)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for i := range st.Grants {
		if err := w.Write(Entry{Grant: &st.Grants[i]}); err != nil {
			_ = w.Close()
			return err
		}
	}
	for i := range st.Publications {
		if err := w.Write(Entry{Publication: &st.Publications[i]}); err != nil {
			_ = w.Close()
			return err
		}
	}
	for i := range st.Deliveries {
		if err := w.Write(Entry{Delivery: &st.Deliveries[i]}); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}

// ReadFile loads a trace file written by WriteFile or a FileWriter.
func ReadFile(path string) (*SimulationTrace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	defer f.Close()

	dec := decMode.NewDecoder(f)
	var first Entry
	if err := dec.Decode(&first); err != nil {
		return nil, fmt.Errorf("reading trace header: %w", err)
	}
	if first.Header == nil {
		return nil, errors.New("trace file does not start with a header")
	}
	st := NewSimulationTrace(TraceConfig{Level: first.Header.Level})
	st.RunID = first.Header.RunID
	for {
		var e Entry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return st, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading trace entry: %w", err)
		}
		switch {
		case e.Grant != nil:
			st.Grants = append(st.Grants, *e.Grant)
		case e.Publication != nil:
			st.Publications = append(st.Publications, *e.Publication)
		case e.Delivery != nil:
			st.Deliveries = append(st.Deliveries, *e.Delivery)
		}
	}
}
