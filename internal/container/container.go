// Package container implements LPM's on-disk package format: a deterministic tar stream of the package payload plus a
// meta.json/manifest.json pair, zstd-compressed, with a detached ed25519
// signature and optional zstd-dictionary delta against a prior version.
package container

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/lpm-project/lpm/internal/model"
)

// Every container carries these two entries at the archive root, before any
// payload, so metadata can be read without decompressing the whole stream.
const (
	MetaEntryName     = "/.lpm-meta.json"
	ManifestEntryName = "/.lpm-manifest.json"
)

// zstdMagic is the 4-byte frame header every artifact must start with.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

var zeroTime = time.Time{}

// Meta is the container's meta.json document. It is the same wire shape a
// repository index entry uses, so building an index from a directory of
// containers is a straight re-serialization.
type Meta = model.PkgMeta

// Payload is everything needed to build a container: the files to pack and
// the metadata describing them.
type Payload struct {
	Meta     Meta
	Manifest []model.ManifestEntry
	Files    map[string][]byte // manifest path -> contents, for regular files
	Symlinks map[string]string // manifest path -> link target
}

// Write builds a deterministic, zstd-compressed container and writes it to
// w: sorted entries, zeroed timestamps and ownership, numeric owner, so two
// builds of identical inputs produce byte-identical output.
func Write(w io.Writer, p Payload) error {
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)

	metaJSON, err := json.MarshalIndent(p.Meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding meta.json: %w", err)
	}
	sortManifest(p.Manifest)
	manifestJSON, err := json.MarshalIndent(p.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest.json: %w", err)
	}
	if err := writeTarEntry(tw, MetaEntryName, 0o644, metaJSON); err != nil {
		return err
	}
	if err := writeTarEntry(tw, ManifestEntryName, 0o644, manifestJSON); err != nil {
		return err
	}

	for _, entry := range p.Manifest {
		if entry.Symlink != "" {
			if err := writeTarSymlink(tw, entry.Path, entry.Symlink); err != nil {
				return err
			}
			continue
		}
		data, ok := p.Files[entry.Path]
		if !ok {
			return fmt.Errorf("manifest references %s but no file content was supplied", entry.Path)
		}
		if err := writeTarEntry(tw, entry.Path, entry.Mode, data); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar stream: %w", err)
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	if _, err := enc.Write(tarBuf.Bytes()); err != nil {
		enc.Close()
		return fmt.Errorf("compressing container: %w", err)
	}
	return enc.Close()
}

func sortManifest(manifest []model.ManifestEntry) {
	sort.Slice(manifest, func(i, j int) bool { return manifest[i].Path < manifest[j].Path })
}

// tarName maps an absolute manifest path to its archive entry name: "."
// plus the path, so "/.lpm-meta.json" lands at the archive root.
func tarName(path string) string {
	return "." + path
}

func writeTarEntry(tw *tar.Writer, path string, mode uint32, data []byte) error {
	if mode == 0 {
		mode = 0o644
	}
	hdr := &tar.Header{
		Name:     tarName(path),
		Mode:     int64(mode),
		Size:     int64(len(data)),
		Typeflag: tar.TypeReg,
		Uid:      0,
		Gid:      0,
		Format:   tar.FormatPAX,
		// Zeroed for determinism: two builds of the same inputs must hash
		// identically regardless of wall-clock build time.
		ModTime: zeroTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header for %s: %w", path, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("writing tar body for %s: %w", path, err)
	}
	return nil
}

func writeTarSymlink(tw *tar.Writer, path, target string) error {
	hdr := &tar.Header{
		Name:     tarName(path),
		Typeflag: tar.TypeSymlink,
		Linkname: target,
		Uid:      0,
		Gid:      0,
		Format:   tar.FormatPAX,
		ModTime:  zeroTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing symlink header for %s: %w", path, err)
	}
	return nil
}

// SHA256Hex hashes data for manifest/meta integrity fields.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
