package sandbox

import (
	"archive/tar"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// archiveEntry is one regular file or directory of a snapshot archive with
// a cleaned, relative, slash separated name.
type archiveEntry struct {
	Name  string
	IsDir bool
	Mode  int64
	Body  io.Reader
}

// walkArchive decodes a tar stream, transparently decompressing zstd, and
// calls fn for every directory and regular file. Entries that would escape
// the extraction root are rejected.
func walkArchive(r io.Reader, fn func(archiveEntry) error) error {
	br := bufio.NewReader(r)

	var src io.Reader = br
	if magic, err := br.Peek(len(zstdMagic)); err == nil && bytes.Equal(magic, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return fmt.Errorf("zstd: %w", err)
		}
		defer dec.Close()
		src = dec
	}

	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}

		name, err := cleanArchiveName(hdr.Name)
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			err = fn(archiveEntry{Name: name, IsDir: true, Mode: hdr.Mode})
		case tar.TypeReg:
			err = fn(archiveEntry{Name: name, Mode: hdr.Mode, Body: tr})
		default:
			// Links and devices are not part of package store snapshots.
			continue
		}
		if err != nil {
			return err
		}
	}
}

func cleanArchiveName(name string) (string, error) {
	if strings.Contains(name, "\\") {
		return "", fmt.Errorf("archive entry %q uses a backslash", name)
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return "", fmt.Errorf("archive entry %q escapes the mount point", name)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+name), "/")
	return cleaned, nil
}

// joinSandbox joins a sandbox directory and a relative name.
func joinSandbox(dir, name string) string {
	return path.Join("/", dir, name)
}
