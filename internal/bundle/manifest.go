package bundle

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lanekessler/renderpipe/internal/xerrors"
)

// Input identifies one constituent of a bundle. Size and ModTime stand in
// for the file's content: if either changes the bundle key changes, which
// is what invalidates stale artifacts without reading file bodies.
type Input struct {
	Identifier string
	Size       int64
	ModTime    time.Time
}

// Manifest is the ordered list of inputs a bundle is built from. Order is
// significant: the same files in a different order are a different bundle.
type Manifest []Input

// Key derives the cache filename stem for this manifest. SHA-1 is used as
// a dedup key, not for security; correctness relies on near-zero collision
// probability across manifests.
func (m Manifest) Key() string {
	h := sha1.New()
	for i, in := range m {
		if i > 0 {
			io.WriteString(h, "|")
		}
		fmt.Fprintf(h, "%s:%d:%d", in.Identifier, in.Size, in.ModTime.Unix())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// StatInput builds an Input for a local file, using identifier as the
// stable name and the file's current size/mtime.
func StatInput(identifier, path string) (Input, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Input{}, xerrors.Wrapf(err, "stat %s", path)
	}
	return Input{
		Identifier: identifier,
		Size:       fi.Size(),
		ModTime:    fi.ModTime(),
	}, nil
}
