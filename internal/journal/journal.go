package journal

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"perp_bot/internal/models"

	"github.com/bytedance/sonic"
)

// Journal appends one JSON object per closed position. The file is
// truncated at session start so a session's records stand alone.
type Journal struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func New(path string) (j *Journal, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("journal.New: %w", err)
		}
	}()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &Journal{path: path, f: f}, nil
}

func (j *Journal) Append(rec *models.TerminalRecord) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Journal.Append: %w", err)
		}
	}()

	data, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return fmt.Errorf("journal closed")
	}
	_, err = j.f.Write(data)
	return err
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// ReadAll loads every record from a journal file. Used by the report tool
// and tests; malformed lines abort with the line number attached.
func ReadAll(path string) ([]models.TerminalRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal.ReadAll: %w", err)
	}
	defer f.Close()

	var out []models.TerminalRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec models.TerminalRecord
		if err := sonic.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("journal.ReadAll: line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("journal.ReadAll: %w", err)
	}
	return out, nil
}
