// Package stager holds files picked for the next comment and the text the
// user is composing. Nothing here touches the network or the disk.
package stager

import (
	"errors"
	"sync"

	"github.com/user/casedesk/internal/types"
)

var ErrIndexOutOfRange = errors.New("staged file index out of range")

// Stager is the pending attachment list. It enforces no upper bound; the
// file picker decides how many files a user may select.
type Stager struct {
	mu    sync.Mutex
	files []types.StagedFile
}

func New() *Stager {
	return &Stager{}
}

// Stage appends a file to the pending list, filling in whatever the
// picker left out.
func (s *Stager) Stage(file types.StagedFile) {
	file = Normalize(file)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, file)
}

// Unstage removes the file at index.
func (s *Stager) Unstage(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.files) {
		return ErrIndexOutOfRange
	}
	s.files = append(s.files[:index:index], s.files[index+1:]...)
	return nil
}

// Clear empties the pending list.
func (s *Stager) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = nil
}

// Files returns a copy of the pending list.
func (s *Stager) Files() []types.StagedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.StagedFile(nil), s.files...)
}

func (s *Stager) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// take returns the current list and empties the stager.
func (s *Stager) take() []types.StagedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	files := s.files
	s.files = nil
	return files
}

// restore puts files back ahead of anything staged since they were taken.
func (s *Stager) restore(files []types.StagedFile) {
	if len(files) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := make([]types.StagedFile, 0, len(files)+len(s.files))
	merged = append(merged, files...)
	s.files = append(merged, s.files...)
}
