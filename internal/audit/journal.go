package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// GenesisHash is the prev value of the first journal line.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// maxLine bounds a single journal line when reading.
const maxLine = 4 * 1024 * 1024

// Line is one archived activity entry. Hash is the SHA-256 of the JSON
// encoding of {seq, archivedAt, entry, prev}; Prev is the Hash of the line
// before it, so editing or dropping any line breaks every later one.
type Line struct {
	Seq        int64           `json:"seq"`
	ArchivedAt time.Time       `json:"archivedAt"`
	Entry      json.RawMessage `json:"entry"`
	Prev       string          `json:"prev"`
	Hash       string          `json:"hash"`
}

// hashed is the part of a Line covered by its hash.
type hashed struct {
	Seq        int64           `json:"seq"`
	ArchivedAt time.Time       `json:"archivedAt"`
	Entry      json.RawMessage `json:"entry"`
	Prev       string          `json:"prev"`
}

func (l Line) digest() string {
	raw, err := json.Marshal(hashed{Seq: l.Seq, ArchivedAt: l.ArchivedAt, Entry: l.Entry, Prev: l.Prev})
	if err != nil {
		panic(fmt.Sprintf("audit: marshal journal line: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Journal appends activity entries to a JSONL file as a hash chain. The
// database table is pruned by Retention; the journal is never rewritten and
// serves as the long-term tamper-evident archive.
//
// Journal is safe for concurrent use.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	seq  int64
	prev string
	now  func() time.Time
}

// OpenJournal opens or creates the journal at path. An existing file is
// verified first so that appends continue an intact chain.
func OpenJournal(path string) (*Journal, error) {
	j := &Journal{prev: GenesisHash, now: time.Now}

	if f, err := os.Open(path); err == nil {
		var last Line
		err := walk(f, func(l Line) { last = l })
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("audit: journal %q: %w", path, err)
		}
		if last.Seq > 0 {
			j.seq, j.prev = last.Seq, last.Hash
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("audit: journal %q: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open journal %q: %w", path, err)
	}
	j.file = f
	return j, nil
}

// Archive appends entry, JSON-encoded, as the next line of the chain.
func (j *Journal) Archive(entry any) (Line, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return Line{}, fmt.Errorf("audit: marshal entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	l := Line{
		Seq:        j.seq + 1,
		ArchivedAt: j.now().UTC(),
		Entry:      raw,
		Prev:       j.prev,
	}
	l.Hash = l.digest()

	buf, err := json.Marshal(l)
	if err != nil {
		return Line{}, fmt.Errorf("audit: marshal journal line: %w", err)
	}
	if _, err := j.file.Write(append(buf, '\n')); err != nil {
		return Line{}, fmt.Errorf("audit: write journal: %w", err)
	}
	j.seq, j.prev = l.Seq, l.Hash
	return l, nil
}

// Close syncs and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	syncErr := j.file.Sync()
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("audit: close journal: %w", err)
	}
	if syncErr != nil {
		return fmt.Errorf("audit: sync journal: %w", syncErr)
	}
	return nil
}

// VerifyJournal reads the journal at path and checks the whole chain. It
// returns the lines in order, or the first break found.
func VerifyJournal(path string) ([]Line, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open journal %q: %w", path, err)
	}
	defer f.Close()

	var lines []Line
	if err := walk(f, func(l Line) { lines = append(lines, l) }); err != nil {
		return nil, err
	}
	return lines, nil
}

// walk decodes and checks each line of r in order, calling fn for every
// line that links correctly to its predecessor.
func walk(r io.Reader, fn func(Line)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	prev := GenesisHash
	var seq int64
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var l Line
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			return fmt.Errorf("malformed line after seq %d: %w", seq, err)
		}
		if l.Prev != prev || l.Seq != seq+1 {
			return fmt.Errorf("chain break at seq %d", l.Seq)
		}
		if l.digest() != l.Hash {
			return fmt.Errorf("hash mismatch at seq %d", l.Seq)
		}
		fn(l)
		prev, seq = l.Hash, l.Seq
	}
	return sc.Err()
}
