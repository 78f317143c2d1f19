package pipeline

import (
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/user/casedesk/internal/types"
)

// OpenLocal opens a staged file from the local filesystem. Both plain
// paths and file:// URIs are accepted.
func OpenLocal(f types.StagedFile) (io.ReadCloser, error) {
	path := f.URI
	if strings.HasPrefix(path, "file://") {
		u, err := url.Parse(path)
		if err != nil {
			return nil, err
		}
		path = u.Path
	}
	return os.Open(path)
}
