package container

import (
	"archive/tar"
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/lpm-project/lpm/internal/model"
)

// Extracted is a fully decoded container: its metadata, manifest, and file
// contents keyed by manifest path.
type Extracted struct {
	Meta     Meta
	Manifest []model.ManifestEntry
	Files    map[string][]byte
	Symlinks map[string]string
}

// Read decompresses and parses a container stream, verifying the zstd frame
// magic first and then that every manifest entry's content hashes to its
// declared SHA256.
func Read(r io.Reader) (*Extracted, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil || !bytes.Equal(magic, zstdMagic) {
		return nil, fmt.Errorf("not a container: missing zstd magic")
	}

	dec, err := zstd.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()

	tr := tar.NewReader(dec)
	out := &Extracted{Files: make(map[string][]byte), Symlinks: make(map[string]string)}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar entry: %w", err)
		}

		path := entryPath(hdr.Name)
		switch path {
		case MetaEntryName:
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("reading meta.json: %w", err)
			}
			if err := json.Unmarshal(data, &out.Meta); err != nil {
				return nil, fmt.Errorf("parsing meta.json: %w", err)
			}
			continue
		case ManifestEntryName:
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("reading manifest.json: %w", err)
			}
			if err := json.Unmarshal(data, &out.Manifest); err != nil {
				return nil, fmt.Errorf("parsing manifest.json: %w", err)
			}
			continue
		}

		if hdr.Typeflag == tar.TypeSymlink {
			out.Symlinks[path] = hdr.Linkname
			continue
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading payload %s: %w", path, err)
		}
		out.Files[path] = data
	}

	return out, verifyManifestHashes(out)
}

// ReadMeta decodes only a container's metadata, stopping as soon as both
// sentinel entries have been seen so callers inspecting a large artifact
// never decompress its payload.
func ReadMeta(r io.Reader) (Meta, []model.ManifestEntry, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil || !bytes.Equal(magic, zstdMagic) {
		return Meta{}, nil, fmt.Errorf("not a container: missing zstd magic")
	}
	dec, err := zstd.NewReader(br)
	if err != nil {
		return Meta{}, nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()

	var (
		meta        Meta
		manifest    []model.ManifestEntry
		haveMeta    bool
		haveEntries bool
	)
	tr := tar.NewReader(dec)
	for !(haveMeta && haveEntries) {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Meta{}, nil, fmt.Errorf("reading tar entry: %w", err)
		}
		switch entryPath(hdr.Name) {
		case MetaEntryName:
			data, err := io.ReadAll(tr)
			if err != nil {
				return Meta{}, nil, fmt.Errorf("reading meta.json: %w", err)
			}
			if err := json.Unmarshal(data, &meta); err != nil {
				return Meta{}, nil, fmt.Errorf("parsing meta.json: %w", err)
			}
			haveMeta = true
		case ManifestEntryName:
			data, err := io.ReadAll(tr)
			if err != nil {
				return Meta{}, nil, fmt.Errorf("reading manifest.json: %w", err)
			}
			if err := json.Unmarshal(data, &manifest); err != nil {
				return Meta{}, nil, fmt.Errorf("parsing manifest.json: %w", err)
			}
			haveEntries = true
		}
	}
	if !haveMeta {
		return Meta{}, nil, fmt.Errorf("container has no %s entry", MetaEntryName)
	}
	return meta, manifest, nil
}

// entryPath recovers the absolute manifest path from a tar entry name,
// tolerating both the "./path" form Write emits and a bare "path" form.
func entryPath(name string) string {
	name = strings.TrimPrefix(name, ".")
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return name
}

// HashMismatchError reports a payload file whose content doesn't hash to
// its manifest entry.
type HashMismatchError struct {
	Path     string
	Expected string
	Got      string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for %s: manifest says %s, got %s", e.Path, e.Expected, e.Got)
}

func verifyManifestHashes(ex *Extracted) error {
	for _, m := range ex.Manifest {
		if m.Symlink != "" {
			if err := verifySymlinkHash(ex, m); err != nil {
				return err
			}
			continue
		}
		data, ok := ex.Files[m.Path]
		if !ok {
			return fmt.Errorf("manifest references %s but payload has no such entry", m.Path)
		}
		if got := SHA256Hex(data); got != m.SHA256 {
			return &HashMismatchError{Path: m.Path, Expected: m.SHA256, Got: got}
		}
	}
	return nil
}

// verifySymlinkHash accepts any of the digests a symlink manifest entry
// may carry: the hash of the link-target string itself, the hash of the
// payload the link resolves to relative to the link's own directory, or the
// hash of the payload stored under the target path exactly as written, when
// that payload is part of this same container.
func verifySymlinkHash(ex *Extracted, m model.ManifestEntry) error {
	if m.SHA256 == "" {
		return nil
	}
	target, ok := ex.Symlinks[m.Path]
	if !ok {
		target = m.Symlink
	}
	if SHA256Hex([]byte(target)) == m.SHA256 {
		return nil
	}
	if payload, ok := ex.Files[resolveLink(m.Path, target)]; ok && SHA256Hex(payload) == m.SHA256 {
		return nil
	}
	if payload, ok := ex.Files[target]; ok && SHA256Hex(payload) == m.SHA256 {
		return nil
	}
	return &HashMismatchError{Path: m.Path, Expected: m.SHA256, Got: "no accepted digest (link target or linked payload)"}
}

// resolveLink resolves a relative symlink target against its manifest path's
// directory; absolute targets pass through unchanged.
func resolveLink(linkPath, target string) string {
	if strings.HasPrefix(target, "/") {
		return target
	}
	dir := linkPath[:strings.LastIndex(linkPath, "/")+1]
	resolved := dir + target
	// collapse "a/../b" the cheap way; manifest paths are already clean
	for {
		i := strings.Index(resolved, "/../")
		if i < 0 {
			break
		}
		prev := strings.LastIndex(resolved[:i], "/")
		if prev < 0 {
			break
		}
		resolved = resolved[:prev] + resolved[i+3:]
	}
	return resolved
}

// RawTar decompresses a container down to its raw (uncompressed) tar bytes,
// used as the input to delta encoding against a prior version.
func RawTar(r io.Reader) ([]byte, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, dec); err != nil {
		return nil, fmt.Errorf("decompressing container: %w", err)
	}
	return buf.Bytes(), nil
}

// IsMetaPackage reports whether a manifest describes a meta-package: one
// whose only entries are the ".lpm-*" control files, installed purely for
// its requires edges.
func IsMetaPackage(manifest []model.ManifestEntry) bool {
	for _, m := range manifest {
		base := m.Path[strings.LastIndex(m.Path, "/")+1:]
		if !strings.HasPrefix(base, ".lpm-") {
			return false
		}
	}
	return true
}
