package delivery

import (
	"fmt"
	"io"
	"sync"
)

// Console returns a handler that writes one line per notice to w.
func Console(w io.Writer) Handler {
	var mu sync.Mutex
	return func(n Notice) error {
		mu.Lock()
		defer mu.Unlock()
		prefix := ""
		switch n.Level {
		case LevelError:
			prefix = "error: "
		case LevelWarn:
			prefix = "warning: "
		}
		_, err := fmt.Fprintf(w, "%s%s\n", prefix, n)
		return err
	}
}
