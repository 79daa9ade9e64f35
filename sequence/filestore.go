// SPDX-License-Identifier: GPL-3.0-or-later

// Package sequence persists the per-client counter used to derive external
// ids, and the file lock that serializes processing runs. The counter
// follows a reserve/commit protocol: Reserve only reads, Commit persists via
// write-then-rename so a crash can waste at most the current reservation but
// never rewind the counter.
package sequence

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dmsbridge/go-mail-dms/log"

	"github.com/sirupsen/logrus"
)

type FileStore struct {
	dir string
	l   *logrus.Logger
}

func NewFileStore(dir string) (*FileStore, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, fmt.Errorf("could not create counter directory: %w", err)
	}

	return &FileStore{
		dir: dir,
		l:   log.Logger(log.LOG_SEQUENCE),
	}, nil
}

func (s *FileStore) counterPath(clientID string) string {
	return filepath.Join(s.dir, "counter_"+clientID)
}

// Reserve returns the next counter value without persisting it. Repeated
// calls without an intervening Commit return the same value.
func (s *FileStore) Reserve(clientID string) (int64, error) {
	content, err := os.ReadFile(s.counterPath(clientID))
	if errors.Is(err, fs.ErrNotExist) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("could not read counter file: %w", err)
	}

	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return 1, nil
	}

	current, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse counter file: %w", err)
	}

	return current + 1, nil
}

// Commit durably persists value as the new counter state. The write goes to
// a temporary file first and is renamed over the counter file, so a crash
// leaves either the old or the new value, never a torn write.
func (s *FileStore) Commit(clientID string, value int64) error {
	path := s.counterPath(clientID)
	tmp, err := os.CreateTemp(s.dir, "counter_"+clientID+".tmp")
	if err != nil {
		return fmt.Errorf("could not create temporary counter file: %w", err)
	}

	_, err = tmp.WriteString(strconv.FormatInt(value, 10))
	if err == nil {
		err = tmp.Sync()
	}
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("could not write temporary counter file: %w", err)
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("could not replace counter file: %w", err)
	}

	s.l.WithFields(logrus.Fields{"client": clientID, "value": value}).Debug("Committed sequence value")
	return nil
}
