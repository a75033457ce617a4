package dockhost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/everydev1618/dockhost/internal/tarball"
)

// ownerCommand prints the container's effective uid and gid, one per line.
const ownerCommand = "id -u && id -g"

// PutFile copies the local file localPath to remotePath inside the
// container. remotePath must be absolute. The file is owned by the
// container's effective user and keeps only its owner permission bits.
func (c *Connection) PutFile(ctx context.Context, localPath, remotePath string) error {
	started := time.Now()
	err := c.putFile(ctx, localPath, remotePath)
	e := newEvent(EventPut, c.run.id, c.host, started, err)
	e.Container = c.containerID
	e.Path = remotePath
	c.run.emit(e)
	return err
}

func (c *Connection) putFile(ctx context.Context, localPath, remotePath string) error {
	const op = "put_file"

	if !strings.HasPrefix(remotePath, "/") {
		return opErrorf(op, c.host, ErrBadArgument, "only absolute paths are available: %q", remotePath)
	}
	dir, name := path.Split(remotePath)
	if name == "" {
		return opErrorf(op, c.host, ErrBadArgument, "%q names a directory: %v", remotePath, tarball.ErrDirectory)
	}
	info, err := os.Stat(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return opError(op, c.host, ErrNotFound, err)
		}
		return opError(op, c.host, ErrBadArgument, err)
	}
	if info.IsDir() {
		return opErrorf(op, c.host, ErrBadArgument, "%s: %v", localPath, tarball.ErrDirectory)
	}

	if err := c.Connect(ctx); err != nil {
		return err
	}

	owner, err := c.discoverOwner(ctx)
	if err != nil {
		return c.wrapKind(op, err)
	}

	data, err := tarball.EncodeFile(localPath, name, owner)
	if err != nil {
		return opError(op, c.host, classifyLocal(err), err)
	}

	if err := c.run.runtime.PutArchive(ctx, c.containerID, path.Clean(dir), bytes.NewReader(data)); err != nil {
		return opErrorf(op, c.host, ErrConnectionFailure, "unknown error while sending file %q: %v", remotePath, err)
	}
	return nil
}

// discoverOwner asks the container for its effective numeric uid and gid.
func (c *Connection) discoverOwner(ctx context.Context) (tarball.Owner, error) {
	res, err := c.Exec(ctx, ownerCommand, nil)
	if err != nil {
		return tarball.Owner{}, err
	}
	if res.ExitCode != 0 {
		return tarball.Owner{}, opErrorf("put_file", c.host, ErrConnectionFailure,
			"couldn't obtain uid/gid: exit %d: %q", res.ExitCode, res.Stderr)
	}

	fields := strings.Fields(string(res.Stdout))
	if len(fields) != 2 {
		return tarball.Owner{}, opErrorf("put_file", c.host, ErrConnectionFailure,
			"couldn't obtain uid/gid: unexpected output %q", res.Stdout)
	}
	uid, errU := strconv.Atoi(fields[0])
	gid, errG := strconv.Atoi(fields[1])
	if errU != nil || errG != nil {
		return tarball.Owner{}, opErrorf("put_file", c.host, ErrConnectionFailure,
			"couldn't obtain uid/gid: unexpected output %q", res.Stdout)
	}
	return tarball.Owner{UID: uid, GID: gid}, nil
}

// FetchFile copies remotePath from the container to localPath. Both paths
// must be absolute. Symlinks are followed relative to the directory that
// holds them; a chain that revisits a path fails instead of looping.
func (c *Connection) FetchFile(ctx context.Context, remotePath, localPath string) error {
	started := time.Now()
	err := c.fetchFile(ctx, remotePath, localPath)
	e := newEvent(EventFetch, c.run.id, c.host, started, err)
	e.Container = c.containerID
	e.Path = remotePath
	c.run.emit(e)
	return err
}

func (c *Connection) fetchFile(ctx context.Context, remotePath, localPath string) error {
	const op = "fetch_file"

	if !filepath.IsAbs(localPath) {
		return opErrorf(op, c.host, ErrBadArgument, "only absolute paths are available: %q", localPath)
	}
	if !strings.HasPrefix(remotePath, "/") {
		return opErrorf(op, c.host, ErrBadArgument, "only absolute paths are available: %q", remotePath)
	}

	if err := c.Connect(ctx); err != nil {
		return err
	}

	visited := make(map[string]bool)
	current := path.Clean(remotePath)
	for {
		if visited[current] {
			return opErrorf(op, c.host, ErrConnectionFailure, "found infinite symbolic link loop: %q", current)
		}
		visited[current] = true

		entry, err := c.fetchEntry(ctx, current)
		if err != nil {
			return opError(op, c.host, classify(err), err)
		}

		switch entry.Kind {
		case tarball.KindSymlink:
			current = resolveLink(current, entry.LinkTarget)
		case tarball.KindFile:
			if err := writeLocal(localPath, entry); err != nil {
				return opError(op, c.host, ErrConnectionFailure, err)
			}
			return nil
		default:
			return opErrorf(op, c.host, ErrConnectionFailure, "bad entry %q: %s", current, entry.Kind)
		}
	}
}

// fetchEntry downloads the archive of one remote path into memory and
// decodes its single entry.
func (c *Connection) fetchEntry(ctx context.Context, remotePath string) (*tarball.Entry, error) {
	rc, err := c.run.runtime.GetArchive(ctx, c.containerID, remotePath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read archive of %s: %w", remotePath, err)
	}
	return tarball.Decode(bytes.NewReader(data))
}

// resolveLink resolves a symlink target against the directory holding the link.
func resolveLink(linkPath, target string) string {
	if path.IsAbs(target) {
		return path.Clean(target)
	}
	return path.Join(path.Dir(linkPath), target)
}

// writeLocal writes a fetched file, keeping only its owner permission bits.
func writeLocal(localPath string, entry *tarball.Entry) error {
	perm := os.FileMode(entry.Mode) & tarball.OwnerMode
	if perm == 0 {
		perm = 0o600
	}

	f, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, entry.Open()); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chmod(localPath, perm)
}

func classifyLocal(err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, tarball.ErrDirectory), errors.Is(err, tarball.ErrUnsupportedEntry):
		return ErrBadArgument
	default:
		return ErrConnectionFailure
	}
}
