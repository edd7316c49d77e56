package location

import (
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// HashSize is the size in bytes of a content hash.
const HashSize = 32

// Hash is the BLAKE3 digest of a file's full contents. It is used by
// upload-by-hash registration to let the server deduplicate uploads.
type Hash [HashSize]byte

// IsZero reports whether h is the zero hash (no hash computed).
func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

// HashFile computes the content hash of the file at path.
func HashFile(path string) (Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hash{}, err
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return Hash{}, err
	}
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h, nil
}
