package stager

import (
	"strings"
	"sync"

	"github.com/user/casedesk/internal/types"
)

// Draft is a snapshot of the composer taken when a send starts.
type Draft struct {
	Text  string
	Files []types.StagedFile
}

// Empty reports whether the draft has neither text (after trimming) nor files.
func (d Draft) Empty() bool {
	return strings.TrimSpace(d.Text) == "" && len(d.Files) == 0
}

// Composer is the message input: free text plus the attachment stager.
type Composer struct {
	mu     sync.Mutex
	text   string
	Staged *Stager
}

func NewComposer() *Composer {
	return &Composer{Staged: New()}
}

func (c *Composer) SetText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
}

func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// Peek returns the current draft without clearing anything.
func (c *Composer) Peek() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Draft{Text: c.text, Files: c.Staged.Files()}
}

// Take snapshots the input and clears it so the next message can be typed
// while the previous one is still uploading.
func (c *Composer) Take() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := Draft{Text: c.text, Files: c.Staged.take()}
	c.text = ""
	return d
}

// Restore puts a snapshot back after a failed send. Text typed since the
// snapshot is kept after the restored text; files staged since are kept
// after the restored files.
func (c *Composer) Restore(d Draft) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.text == "":
		c.text = d.Text
	case d.Text != "":
		c.text = d.Text + "\n" + c.text
	}
	c.Staged.restore(d.Files)
}
