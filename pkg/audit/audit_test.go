package audit

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSink(t *testing.T) *Sink {
	t.Helper()
	s, err := Open(Config{
		Dir:    t.TempDir(),
		Secret: []byte("test audit secret"),
		Strict: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndVerify(t *testing.T) {
	s := testSink(t)
	for i := 0; i < 50; i++ {
		require.NoError(t, s.Append(StreamMain, []byte(fmt.Sprintf("record %d", i))))
	}

	res, err := s.Verify(StreamMain)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, uint64(50), res.Records)
	assert.Equal(t, uint64(50), s.Len(StreamMain))
}

func TestVerifyReportsFirstCorruptedIndex(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir, Secret: []byte("k"), Strict: true})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(StreamMain, []byte(fmt.Sprintf("record %d", i))))
	}
	require.NoError(t, s.Close())

	// Corrupt the payload of record 4 in place.
	path := filepath.Join(dir, StreamMain.filename())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(data, []byte{'\n'})
	lines[4] = bytes.Replace(lines[4], []byte("record 4"), []byte("recorD 4"), 1)
	require.NoError(t, os.WriteFile(path, bytes.Join(lines, []byte{'\n'}), 0o644))

	res, err := verifyFile(path, deriveChainKey([]byte("k")))
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, uint64(4), res.FirstBad)
}

func TestVerifyDetectsTruncation(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir, Secret: []byte("k"), Strict: true})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(StreamMain, []byte(fmt.Sprintf("record %d", i))))
	}
	require.NoError(t, s.Close())

	// Deleting a middle record shifts every later hash off the
	// chain.
	path := filepath.Join(dir, StreamMain.filename())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(data, []byte{'\n'})
	lines = append(lines[:2], lines[3:]...)
	require.NoError(t, os.WriteFile(path, bytes.Join(lines, []byte{'\n'}), 0o644))

	res, err := verifyFile(path, deriveChainKey([]byte("k")))
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, uint64(2), res.FirstBad)
}

func TestStreamsAreIndependent(t *testing.T) {
	s := testSink(t)
	require.NoError(t, s.Append(StreamMain, []byte("delivered")))
	require.NoError(t, s.Append(StreamAIGenerated, []byte("pre-moderation")))
	require.NoError(t, s.Append(StreamMetadata, []byte(`{"compressed_size":10}`)))
	require.NoError(t, s.Append(StreamSafety, []byte(`{"moderation_action":"blocked"}`)))

	for id := Stream(0); id < streamCount; id++ {
		res, err := s.Verify(id)
		require.NoError(t, err)
		assert.True(t, res.OK, "stream %s", id)
		assert.Equal(t, uint64(1), res.Records, "stream %s", id)
	}
}

func TestPayloadEscapingSurvivesLineFraming(t *testing.T) {
	s := testSink(t)
	payload := "line one\nline two\twith tab\\and backslash\r"
	require.NoError(t, s.Append(StreamMain, []byte(payload)))

	res, err := s.Verify(StreamMain)
	require.NoError(t, err)
	assert.True(t, res.OK)

	records, err := s.Export(StreamMain)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, payload, records[0].Payload)
}

func TestConcurrentAppendsKeepChainWellOrdered(t *testing.T) {
	s := testSink(t)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_ = s.Append(StreamMain, []byte(fmt.Sprintf("writer %d record %d", g, i)))
			}
		}(g)
	}
	wg.Wait()

	res, err := s.Verify(StreamMain)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, uint64(200), res.Records)
}

func TestChainHeadRecoveryAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir, Secret: []byte("k"), Strict: true}

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Append(StreamMain, []byte("before restart")))
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Append(StreamMain, []byte("after restart")))

	res, err := s.Verify(StreamMain)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, uint64(2), res.Records)
	require.NoError(t, s.Close())
}

func TestRedactionPreservesChainIntegrity(t *testing.T) {
	s := testSink(t)
	require.NoError(t, s.Append(StreamMain, []byte("keep this")))
	require.NoError(t, s.Append(StreamMain, []byte("erase this personal data")))
	require.NoError(t, s.Redact(StreamMain, 1, "gdpr erasure request"))

	res, err := s.Verify(StreamMain)
	require.NoError(t, err)
	assert.True(t, res.OK, "redaction must not break the chain")

	records, err := s.Export(StreamMain)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "keep this", records[0].Payload)
	assert.Equal(t, RedactedMarker, records[1].Payload)
	assert.True(t, records[1].Redacted)
	assert.Contains(t, records[2].Payload, "gdpr erasure request")
}

func TestRotateStartsFreshChain(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir, Secret: []byte("k"), Strict: true})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(StreamMain, []byte("old segment")))
	require.NoError(t, s.Rotate(StreamMain))

	archives, err := filepath.Glob(filepath.Join(dir, StreamMain.filename()+".*.lz4"))
	require.NoError(t, err)
	assert.Len(t, archives, 1)

	require.NoError(t, s.Append(StreamMain, []byte("new segment")))
	res, err := s.Verify(StreamMain)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, uint64(1), res.Records)
	assert.Equal(t, uint64(1), s.Len(StreamMain))
}

func TestAppendAfterCloseFails(t *testing.T) {
	s, err := Open(Config{Dir: t.TempDir(), Secret: []byte("k"), Strict: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Append(StreamMain, []byte("late")), ErrSinkClosed)
}

func TestUnknownStreamRejected(t *testing.T) {
	s := testSink(t)
	assert.ErrorIs(t, s.Append(Stream(99), []byte("x")), ErrUnknownStream)
	_, err := s.Verify(Stream(99))
	assert.ErrorIs(t, err, ErrUnknownStream)
}

func TestRecordFormats(t *testing.T) {
	ts := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	line := MainLine(ts, "sess-1", DirectionOutbound, "delivered", "hello there")
	assert.Equal(t, "2026-08-29T12:00:00Z | sess-1 | outbound | delivered | hello there", string(line))

	rec, err := AnalyticsRecord{
		Timestamp: ts,
		SessionID: "sess-1",
		Direction: DirectionOutbound,
		Metadata:  AnalyticsStats{CompressedSize: 4, DecompressedSize: 26, Ratio: 6.5, CacheHit: true, Speedup: 3.2},
	}.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(rec), `"compressed_size":4`)
	assert.NotContains(t, string(rec), "hello")
}
