// Package artifact owns the files a session produces: transient source PDFs
// and the final annotated XML.
package artifact

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultName is used when a document id yields no usable file name.
const DefaultName = "document"

// Store places results under ResultDir and transient files under TmpDir.
type Store struct {
	ResultDir string
	TmpDir    string
}

func NewStore(resultDir, tmpDir string) (*Store, error) {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	for _, dir := range []string{resultDir, tmpDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Store{ResultDir: resultDir, TmpDir: tmpDir}, nil
}

// NameFromDocumentID derives the artifact base name from a document id:
// the last path segment, cut at its first '.'.
func NameFromDocumentID(id string) string {
	p := id
	if u, err := url.Parse(id); err == nil && u.Path != "" {
		p = u.Path
	}
	base := path.Base(strings.TrimRight(p, "/"))
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return DefaultName
	}
	return base
}

// ResultPath is where the annotated tree of documentID is written.
func (s *Store) ResultPath(documentID string) string {
	return filepath.Join(s.ResultDir, NameFromDocumentID(documentID)+".xml")
}

// WriteResult writes the output of encode to the result path of documentID.
// The file is written next to its destination and renamed into place, so a
// failed write never leaves a partial artifact.
func (s *Store) WriteResult(documentID string, encode func(io.Writer) error) (string, error) {
	dst := s.ResultPath(documentID)
	var buf bytes.Buffer
	if err := encode(&buf); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.ResultDir, ".annotree-*.xml")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return dst, nil
}

// TempPDF writes a transient copy of a source document and returns its
// path. Names are unique so concurrent sessions never collide.
func (s *Store) TempPDF(data []byte) (string, error) {
	p := filepath.Join(s.TmpDir, "annotree-"+uuid.NewString()+".pdf")
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", err
	}
	return p, nil
}

// Remove deletes transient files, ignoring ones already gone.
func (s *Store) Remove(paths ...string) error {
	var first error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && first == nil {
			first = err
		}
	}
	return first
}
