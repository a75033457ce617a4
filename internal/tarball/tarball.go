// Package tarball encodes and decodes the single-entry tar payloads used to
// move one file in or out of a container.
package tarball

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// OwnerMode is the only permission mask kept on encoded files.
const OwnerMode = 0o700

// Standard errors
var (
	// ErrEntryCount is returned when an archive does not hold exactly one entry.
	ErrEntryCount = errors.New("archive must contain exactly one entry")

	// ErrDirectory is returned when a directory is offered for transfer.
	ErrDirectory = errors.New("directory transfer is not supported")

	// ErrUnsupportedEntry is returned for entries that are neither files nor symlinks.
	ErrUnsupportedEntry = errors.New("unsupported archive entry")
)

// Kind identifies the type of an archive entry.
type Kind int

const (
	KindFile Kind = iota
	KindSymlink
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindSymlink:
		return "symlink"
	default:
		return "other"
	}
}

// Owner holds the numeric ownership written into an encoded entry.
type Owner struct {
	UID int
	GID int
}

// Entry is the single decoded entry of an archive.
type Entry struct {
	Kind       Kind
	Name       string
	LinkTarget string
	Mode       int64
	Size       int64
	UID        int
	GID        int

	content []byte
}

// Open returns a reader over the entry's content. Symlinks have no content.
func (e *Entry) Open() io.Reader {
	return bytes.NewReader(e.content)
}

// EncodeFile archives localPath as a single regular file called name.
// Symlinks are followed, user and group names are dropped in favor of the
// given numeric owner, and permissions are masked to the owner bits.
func EncodeFile(localPath, name string, owner Owner) ([]byte, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: %w", localPath, ErrDirectory)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w: %s", localPath, ErrUnsupportedEntry, info.Mode().Type())
	}

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     info.Size(),
		Mode:     int64(info.Mode().Perm() & OwnerMode),
		ModTime:  info.ModTime(),
		Uid:      owner.UID,
		Gid:      owner.GID,
		Format:   tar.FormatPAX,
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	n, err := io.Copy(tw, f)
	if err != nil {
		return nil, fmt.Errorf("write content: %w", err)
	}
	if n != info.Size() {
		return nil, fmt.Errorf("%s changed size while archiving", localPath)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses an archive that must hold exactly one file or symlink entry.
func Decode(r io.Reader) (*Entry, error) {
	tr := tar.NewReader(r)

	hdr, err := tr.Next()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: got 0", ErrEntryCount)
	}
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	if hdr.Typeflag == tar.TypeDir {
		return nil, fmt.Errorf("%s: %w", hdr.Name, ErrDirectory)
	}

	entry := &Entry{
		Name:       hdr.Name,
		LinkTarget: hdr.Linkname,
		Mode:       hdr.Mode,
		Size:       hdr.Size,
		UID:        hdr.Uid,
		GID:        hdr.Gid,
	}
	switch hdr.Typeflag {
	case tar.TypeReg:
		entry.Kind = KindFile
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", hdr.Name, err)
		}
		entry.content = content
	case tar.TypeSymlink:
		entry.Kind = KindSymlink
	default:
		entry.Kind = KindOther
	}

	extra := 0
	for {
		_, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		extra++
	}
	if extra > 0 {
		return nil, fmt.Errorf("%w: got %d", ErrEntryCount, extra+1)
	}

	if entry.Kind == KindOther {
		return entry, fmt.Errorf("%s: %w: type %q", hdr.Name, ErrUnsupportedEntry, hdr.Typeflag)
	}
	return entry, nil
}

// EncodeSymlink archives a single symlink entry. Runtimes use it to answer
// archive requests for links.
func EncodeSymlink(name, target string) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeSymlink,
		Name:     name,
		Linkname: target,
		Mode:     0o777,
	}); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}
