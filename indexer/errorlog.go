package indexer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const entryMarker = "=== "

// ErrorEntry is one failure block of an error log.
type ErrorEntry struct {
	Timestamp time.Time
	ItemID    string
	Message   string
}

// ErrorLog appends human readable failure blocks:
//
//	=== 2025-01-02T15:04:05Z
//	item_id: doc7
//	error: invalid source item: text content cannot be empty
//
// Entries are never rewritten.
type ErrorLog struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	now    func() time.Time
}

// NewErrorLog writes entries to w.
func NewErrorLog(w io.Writer) *ErrorLog {
	return &ErrorLog{w: w, now: time.Now}
}

// OpenErrorLog opens path for appending, creating it if needed.
func OpenErrorLog(path string) (*ErrorLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening error log: %w", err)
	}
	l := NewErrorLog(f)
	l.closer = f
	return l, nil
}

// Record appends one entry. A nil log discards it.
func (l *ErrorLog) Record(itemID string, cause error) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if itemID == "" {
		itemID = "<missing>"
	}
	msg := strings.ReplaceAll(cause.Error(), "\n", " ")
	_, err := fmt.Fprintf(l.w, "%s%s\nitem_id: %s\nerror: %s\n\n",
		entryMarker, l.now().UTC().Format(time.RFC3339), itemID, msg)
	return err
}

// Close closes the underlying file when the log owns one.
func (l *ErrorLog) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// ReadErrorLog parses every entry of an error log. A missing file has no entries.
func ReadErrorLog(path string) ([]ErrorEntry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseErrorLog(f)
}

// ParseErrorLog reads entries from r. Lines outside a block are ignored.
func ParseErrorLog(r io.Reader) ([]ErrorEntry, error) {
	var entries []ErrorEntry
	var current *ErrorEntry

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, entryMarker):
			ts, err := time.Parse(time.RFC3339, strings.TrimPrefix(line, entryMarker))
			if err != nil {
				return nil, fmt.Errorf("%w: bad timestamp %q", ErrMalformedErrorLog, line)
			}
			entries = append(entries, ErrorEntry{Timestamp: ts})
			current = &entries[len(entries)-1]
		case current == nil:
		case strings.HasPrefix(line, "item_id: "):
			current.ItemID = strings.TrimPrefix(line, "item_id: ")
		case strings.HasPrefix(line, "error: "):
			current.Message = strings.TrimPrefix(line, "error: ")
		}
	}
	return entries, scanner.Err()
}
