package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// VerifyResult reports the outcome of a chain verification.
type VerifyResult struct {
	OK      bool
	Records uint64
	// FirstBad is the index of the first record whose stored hash
	// diverges from the recomputed chain, or whose line is
	// malformed. Meaningful only when OK is false.
	FirstBad uint64
}

// Verify recomputes a stream's hash chain from genesis and compares
// it to the stored hashes. It is read-only and safe to run while the
// sink is appending; it locks the stream only long enough to flush
// buffered writes.
func (s *Sink) Verify(id Stream) (VerifyResult, error) {
	if !id.Valid() {
		return VerifyResult{}, fmt.Errorf("%w: %d", ErrUnknownStream, uint8(id))
	}
	st := s.streams[id]
	st.mu.Lock()
	err := st.w.Flush()
	st.mu.Unlock()
	if err != nil {
		return VerifyResult{}, fmt.Errorf("audit: flush %s: %w", id, err)
	}
	return verifyFile(filepath.Join(s.dir, id.filename()), s.key)
}

func verifyFile(path string, key [32]byte) (VerifyResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("audit: read %s: %w", path, err)
	}
	head := genesis
	var index uint64
	for _, line := range splitLines(data) {
		payload, stored, ok := splitRecordLine(line)
		if !ok {
			return VerifyResult{OK: false, Records: index, FirstBad: index}, nil
		}
		head = nextChain(key, head, []byte(payload))
		if head != stored {
			return VerifyResult{OK: false, Records: index, FirstBad: index}, nil
		}
		index++
	}
	return VerifyResult{OK: true, Records: index}, nil
}

// Record is one exported audit entry.
type Record struct {
	Index    uint64
	Payload  string
	Redacted bool
}

// Export reads a stream back with redaction applied: records named
// by a tombstone have their payload replaced by the marker.
// Tombstone entries themselves are exported as-is so the erasure is
// itself auditable.
func (s *Sink) Export(id Stream) ([]Record, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStream, uint8(id))
	}
	st := s.streams[id]
	st.mu.Lock()
	err := st.w.Flush()
	st.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("audit: flush %s: %w", id, err)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, id.filename()))
	if err != nil {
		return nil, fmt.Errorf("audit: read %s: %w", id, err)
	}

	var records []Record
	redacted := make(map[uint64]bool)
	for i, line := range splitLines(data) {
		payload, _, ok := splitRecordLine(line)
		if !ok {
			return nil, fmt.Errorf("audit: %s: malformed line %d", id, i)
		}
		raw := unescapePayload(payload)
		var ts tombstone
		if err := json.Unmarshal([]byte(raw), &ts); err == nil && ts.Tombstone {
			redacted[ts.Redacts] = true
		}
		records = append(records, Record{Index: uint64(i), Payload: raw})
	}
	for i := range records {
		if redacted[records[i].Index] {
			records[i].Payload = RedactedMarker
			records[i].Redacted = true
		}
	}
	return records, nil
}
