// Package source reads the buffer to search. Plain files are read as-is;
// .7z, .zst and .lz4 files are decompressed first so a corrupted payload can
// be searched without unpacking it by hand.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/bleepsandbloops/bitflip/pkg/debug"
)

var (
	// ErrInputTooLarge is returned when the decoded input exceeds the limit.
	ErrInputTooLarge = errors.New("input exceeds size limit")

	// ErrEmptyArchive is returned for a .7z archive without a regular file.
	ErrEmptyArchive = errors.New("archive contains no regular file")
)

// Format identifies how a source file is decoded.
type Format string

const (
	FormatRaw      Format = "raw"
	FormatSevenZip Format = "7z"
	FormatZstd     Format = "zstd"
	FormatLZ4      Format = "lz4"
)

// DetectFormat picks a format from the file extension.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".7z":
		return FormatSevenZip
	case ".zst", ".zstd":
		return FormatZstd
	case ".lz4":
		return FormatLZ4
	default:
		return FormatRaw
	}
}

// Load reads path into memory, decoding it according to its extension.
// maxBytes bounds the decoded size; zero means unbounded.
func Load(path string, maxBytes int64) ([]byte, error) {
	format := DetectFormat(path)
	debug.Debug("Loading %s as %s (limit %d bytes)", path, format, maxBytes)

	switch format {
	case FormatSevenZip:
		return loadSevenZip(path, maxBytes)
	case FormatZstd:
		return loadStream(path, maxBytes, func(r io.Reader) (io.Reader, func(), error) {
			dec, err := zstd.NewReader(r)
			if err != nil {
				return nil, nil, fmt.Errorf("zstd reader: %w", err)
			}
			return dec, dec.Close, nil
		})
	case FormatLZ4:
		return loadStream(path, maxBytes, func(r io.Reader) (io.Reader, func(), error) {
			return lz4.NewReader(r), func() {}, nil
		})
	default:
		return loadRaw(path, maxBytes)
	}
}

func loadRaw(path string, maxBytes int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrInputTooLarge, path, info.Size(), maxBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

type decoderFunc func(io.Reader) (io.Reader, func(), error)

func loadStream(path string, maxBytes int64, newDecoder decoderFunc) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r, closeFn, err := newDecoder(f)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	data, err := readLimited(r, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return data, nil
}

// loadSevenZip returns the first regular file in the archive.
func loadSevenZip(path string, maxBytes int64) ([]byte, error) {
	archive, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer archive.Close()

	for _, file := range archive.File {
		if file.FileInfo().IsDir() {
			continue
		}
		if maxBytes > 0 && file.UncompressedSize > uint64(maxBytes) {
			return nil, fmt.Errorf("%w: %s in %s is %d bytes, limit %d",
				ErrInputTooLarge, file.Name, path, file.UncompressedSize, maxBytes)
		}

		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s in %s: %w", file.Name, path, err)
		}
		data, err := readLimited(rc, maxBytes)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to extract %s from %s: %w", file.Name, path, err)
		}

		debug.Info("Extracted %s (%d bytes) from %s", file.Name, len(data), path)
		return data, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrEmptyArchive, path)
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if n > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrInputTooLarge, maxBytes)
	}
	return buf.Bytes(), nil
}
