package trace

import (
	"bufio"
	"encoding/hex"
	"io"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// JSONStream writes every trace record as a single JSON object on its own line
type JSONStream struct {
	mutex   sync.Mutex
	out     *bufio.Writer
	records int
	err     error
}

var _ Stream = &JSONStream{}

func NewJSONStream(w io.Writer) *JSONStream {
	return &JSONStream{out: bufio.NewWriter(w)}
}

func hexAddress(address uint64) string {
	return "0x" + strconv.FormatUint(address, 16)
}

func (s *JSONStream) emit(record string, fill func(obj *jwriter.ObjectState)) {
	writer := jwriter.NewWriter()
	obj := writer.Object()
	obj.Name("Record").String(record)
	fill(&obj)
	obj.End()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.err != nil {
		return
	}

	if err := writer.Error(); err != nil {
		s.err = errors.Wrapf(err, "failed to encode %s record", record)
		return
	}

	if _, err := s.out.Write(writer.Bytes()); err != nil {
		s.err = errors.Wrapf(err, "failed to write %s record", record)
		return
	}
	if err := s.out.WriteByte('\n'); err != nil {
		s.err = errors.Wrapf(err, "failed to write %s record", record)
		return
	}
	s.records++
}

func (s *JSONStream) WriteHeader(deviceID uint32, family string) {
	s.emit("Header", func(obj *jwriter.ObjectState) {
		obj.Name("DeviceID").Int(int(deviceID))
		obj.Name("Family").String(family)
	})
}

func (s *JSONStream) WriteMemory(physicalAddress uint64, data []byte, space AddressSpace) {
	s.emit("Memory", func(obj *jwriter.ObjectState) {
		obj.Name("Address").String(hexAddress(physicalAddress))
		obj.Name("Space").String(space.String())
		obj.Name("Data").String(hex.EncodeToString(data))
	})
}

func (s *JSONStream) WriteGTTEntry(offset uint64, entry uint64) {
	s.emit("GTTEntry", func(obj *jwriter.ObjectState) {
		obj.Name("Offset").String(hexAddress(offset))
		obj.Name("Entry").String(hexAddress(entry))
	})
}

func (s *JSONStream) WriteMMIO(register uint32, value uint32) {
	s.emit("MMIO", func(obj *jwriter.ObjectState) {
		obj.Name("Register").String(hexAddress(uint64(register)))
		obj.Name("Value").String(hexAddress(uint64(value)))
	})
}

func (s *JSONStream) ExpectMemory(physicalAddress uint64, data []byte, space AddressSpace, op CompareOperation) {
	s.emit("ExpectMemory", func(obj *jwriter.ObjectState) {
		obj.Name("Address").String(hexAddress(physicalAddress))
		obj.Name("Space").String(space.String())
		obj.Name("Compare").String(op.String())
		obj.Name("Data").String(hex.EncodeToString(data))
	})
}

func (s *JSONStream) AddComment(comment string) {
	s.emit("Comment", func(obj *jwriter.ObjectState) {
		obj.Name("Text").String(comment)
	})
}

// RecordCount is the number of records successfully handed to the underlying writer
func (s *JSONStream) RecordCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.records
}

// Flush pushes buffered records to the underlying writer and reports the first error hit by any record
func (s *JSONStream) Flush() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.err != nil {
		return s.err
	}

	if err := s.out.Flush(); err != nil {
		s.err = errors.Wrap(err, "failed to flush trace")
	}
	return s.err
}
