// Package fingerprint derives content-addressed identities for source
// files. A fingerprint is the MD5 digest of the raw file bytes as 32
// lowercase hex characters; renaming a file never changes it.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	ragonerr "github.com/ragon-ai/ragon/internal/errors"
	"github.com/ragon-ai/ragon/internal/extract"
)

// blockSize is the streaming read size. Sources run to hundreds of MB;
// they are never loaded whole.
const blockSize = 8 * 1024

// Size is the fixed length of a fingerprint string.
const Size = 32

// Fingerprint computes the content fingerprint of the file at path.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", ragonerr.SourceUnavailable(path, err)
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, blockSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", ragonerr.SourceUnavailable(path, readErr)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// DirectoryManifest walks dir non-recursively and returns fingerprint →
// source filename for every source file found. Two sources with identical
// content collapse to one entry; the first in name order wins.
//
// An unreadable source fails the whole call: a manifest missing entries
// would make valid index directories look orphaned.
func DirectoryManifest(dir string) (map[string]string, error) {
	sources, err := extract.ListSources(dir)
	if err != nil {
		return nil, err
	}

	manifest := make(map[string]string, len(sources))
	for _, src := range sources {
		fp, err := Fingerprint(src)
		if err != nil {
			return nil, err
		}
		if _, dup := manifest[fp]; dup {
			continue
		}
		manifest[fp] = filepath.Base(src)
	}

	return manifest, nil
}

// IsFingerprint reports whether name is exactly 32 lowercase hex chars.
func IsFingerprint(name string) bool {
	if len(name) != Size {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
