// Package blob stores uploaded attachments and serves them back by the
// public path handed to clients.
package blob

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// MediaPrefix is the URL prefix of every stored object.
const MediaPrefix = "/media/"

var (
	ErrNotFound    = errors.New("blob not found")
	ErrInvalidPath = errors.New("invalid blob path")
)

// objectKey names an upload as <owner>/<unix ms>_<base name>.
func objectKey(ownerID int64, name string, now time.Time) (string, error) {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." || base == "" {
		return "", fmt.Errorf("%w: file name %q", ErrInvalidPath, name)
	}
	if ownerID <= 0 {
		return "", fmt.Errorf("%w: owner %d", ErrInvalidPath, ownerID)
	}
	return strconv.FormatInt(ownerID, 10) + "/" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + base, nil
}

// keyFromPath turns a public /media/ path back into an object key,
// rejecting anything that would escape the media root.
func keyFromPath(p string) (string, error) {
	key := strings.TrimPrefix(p, MediaPrefix)
	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.Contains(key, "\\") {
		return "", ErrInvalidPath
	}
	clean := path.Clean(key)
	if clean != key || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidPath
	}
	return clean, nil
}
