// Package transfer builds and validates the file manifest exchanged after
// key confirmation, and carries the rate-limiting wrapper used while
// streaming chunks.
//
// Every declared path is relative to the common ancestor of the input set,
// and a path is accepted only if it resolves (after following any
// symlinks) inside that ancestor.
package transfer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/go-portal/portal/internal/portalerr"
)

// FileMetadata is the per-file header the Sender transmits (sealed) before
// streaming that file's chunks.
type FileMetadata struct {
	Path           string `json:"path"`            // relative to the common ancestor
	PlaintextSize  int64  `json:"plaintext_size"`
	CiphertextSize int64  `json:"ciphertext_size"`
}

// TransferInfo is the manifest of every file in a send batch, sealed with
// the session key and sent as Metadata before any file is streamed.
type TransferInfo struct {
	Files     []FileMetadata `json:"files"`
	TotalSize int64          `json:"total_size"`
}

// Encode serializes a TransferInfo to JSON for sealing and transmission as
// a Metadata record.
func (t *TransferInfo) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// DecodeTransferInfo parses a sealed-then-opened TransferInfo payload.
func DecodeTransferInfo(data []byte) (*TransferInfo, error) {
	var t TransferInfo
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, portalerr.Wrap(portalerr.Protocol, "decoding transfer info: %w", err)
	}
	return &t, nil
}

// Encode serializes a FileMetadata.
func (f *FileMetadata) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFileMetadata parses a sealed-then-opened FileMetadata payload.
func DecodeFileMetadata(data []byte) (*FileMetadata, error) {
	var f FileMetadata
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, portalerr.Wrap(portalerr.Protocol, "decoding file header: %w", err)
	}
	return &f, nil
}

// CiphertextSize computes the wire size of plaintextSize bytes chunked at
// chunkSize: one 16-byte tag per full or partial chunk.
func CiphertextSize(plaintextSize, chunkSize int64) int64 {
	if plaintextSize == 0 {
		return 16 // a single empty chunk still carries one tag
	}
	numChunks := (plaintextSize + chunkSize - 1) / chunkSize
	return plaintextSize + numChunks*16
}

// BuildManifest walks paths breadth-first, expanding directories, and
// returns a TransferInfo plus the absolute source path for each declared
// file, in the same order. commonAncestor is the directory every relative
// path is computed against; it is the deepest directory containing every
// input path.
func BuildManifest(paths []string, chunkSize int64) (*TransferInfo, []string, error) {
	if len(paths) == 0 {
		return nil, nil, portalerr.Wrap(portalerr.Protocol, "no input paths given")
	}

	absPaths := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, nil, portalerr.Wrap(portalerr.Io, "resolving %q: %w", p, err)
		}
		absPaths = append(absPaths, abs)
	}
	ancestor := commonAncestor(absPaths)

	type walkEntry struct {
		abs string
	}
	queue := make([]walkEntry, 0, len(absPaths))
	for _, abs := range absPaths {
		queue = append(queue, walkEntry{abs: abs})
	}

	var files []FileMetadata
	var sources []string
	var total int64

	for len(queue) > 0 {
		entry := queue[0]
		queue = queue[1:]

		info, err := resolveWithinAncestor(entry.abs, ancestor)
		if err != nil {
			return nil, nil, err
		}

		if info.IsDir() {
			entries, err := os.ReadDir(entry.abs)
			if err != nil {
				return nil, nil, portalerr.Wrap(portalerr.Io, "reading directory %q: %w", entry.abs, err)
			}
			for _, e := range entries {
				queue = append(queue, walkEntry{abs: filepath.Join(entry.abs, e.Name())})
			}
			continue
		}

		rel, err := filepath.Rel(ancestor, entry.abs)
		if err != nil {
			return nil, nil, portalerr.Wrap(portalerr.Io, "computing relative path for %q: %w", entry.abs, err)
		}
		rel = filepath.ToSlash(rel)

		size := info.Size()
		files = append(files, FileMetadata{
			Path:           rel,
			PlaintextSize:  size,
			CiphertextSize: CiphertextSize(size, chunkSize),
		})
		sources = append(sources, entry.abs)
		total += size
	}

	order := make([]int, len(files))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return files[order[i]].Path < files[order[j]].Path })
	sortedFiles := make([]FileMetadata, len(files))
	sortedSources := make([]string, len(sources))
	for i, j := range order {
		sortedFiles[i] = files[j]
		sortedSources[i] = sources[j]
	}

	return &TransferInfo{Files: sortedFiles, TotalSize: total}, sortedSources, nil
}

// resolveWithinAncestor Lstats path; if it is a symlink, the target is
// resolved and must itself lie inside ancestor, or the manifest build
// fails closed rather than silently following a link outside the declared
// root.
func resolveWithinAncestor(path, ancestor string) (os.FileInfo, error) {
	lst, err := os.Lstat(path)
	if err != nil {
		return nil, portalerr.Wrap(portalerr.Io, "stat %q: %w", path, err)
	}
	if lst.Mode()&os.ModeSymlink == 0 {
		return lst, nil
	}

	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, portalerr.Wrap(portalerr.PathUnsafe, "resolving symlink %q: %w", path, err)
	}
	if !isWithin(ancestor, target) {
		return nil, portalerr.Wrap(portalerr.PathUnsafe, "symlink %q escapes common ancestor", path)
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, portalerr.Wrap(portalerr.Io, "stat symlink target %q: %w", target, err)
	}
	return info, nil
}

func isWithin(ancestor, target string) bool {
	rel, err := filepath.Rel(ancestor, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, "..")
}

// commonAncestor returns the deepest directory containing every path in
// abs. For a single file input, its own parent directory is the ancestor.
func commonAncestor(abs []string) string {
	dirs := make([]string, len(abs))
	for i, p := range abs {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			dirs[i] = p
		} else {
			dirs[i] = filepath.Dir(p)
		}
	}

	ancestor := dirs[0]
	for _, d := range dirs[1:] {
		ancestor = pairwiseCommonAncestor(ancestor, d)
	}
	return ancestor
}

func pairwiseCommonAncestor(a, b string) string {
	aParts := strings.Split(filepath.ToSlash(a), "/")
	bParts := strings.Split(filepath.ToSlash(b), "/")

	n := len(aParts)
	if len(bParts) < n {
		n = len(bParts)
	}
	i := 0
	for i < n && aParts[i] == bParts[i] {
		i++
	}
	// For absolute paths the first element is the empty string before the
	// leading separator, so a match of that element alone means the root.
	if i == 0 || (i == 1 && aParts[0] == "") {
		return string(filepath.Separator)
	}
	return filepath.FromSlash(strings.Join(aParts[:i], "/"))
}

// ValidateRelativePath enforces the Receiver-side path-safety rule: no
// absolute roots, no ".." components, no empty components, and no control
// characters.
func ValidateRelativePath(rel string) error {
	if containsDangerousChars(rel) {
		return portalerr.Wrap(portalerr.PathUnsafe, "path contains dangerous characters: %q", rel)
	}

	// Not passed through filepath.Clean: Clean would drop empty components
	// and resolve ".." before the checks below could see them.
	normalized := filepath.ToSlash(norm.NFC.String(rel))

	if filepath.IsAbs(normalized) || strings.HasPrefix(normalized, "/") {
		return portalerr.Wrap(portalerr.PathUnsafe, "absolute paths are not allowed: %q", rel)
	}
	if normalized == "." || normalized == "" {
		return portalerr.Wrap(portalerr.PathUnsafe, "empty path component: %q", rel)
	}
	for _, part := range strings.Split(normalized, "/") {
		if part == "" {
			return portalerr.Wrap(portalerr.PathUnsafe, "empty path component in %q", rel)
		}
		if part == ".." {
			return portalerr.Wrap(portalerr.PathUnsafe, "path traversal component in %q", rel)
		}
	}
	return nil
}

func containsDangerousChars(path string) bool {
	for _, r := range path {
		if r == 0 {
			return true
		}
		if unicode.IsControl(r) && r != '\t' {
			return true
		}
	}
	return false
}

// WriteOptions controls how a file is materialised on the Receiver side.
type WriteOptions struct {
	// Overwrite allows replacing an existing file; by default creation of
	// an existing file is rejected.
	Overwrite bool
}

// CreateFile opens rel (validated, joined under root) for writing,
// creating parent directories as needed, and refusing to overwrite an
// existing file unless opts.Overwrite is set.
func CreateFile(root, rel string, mode os.FileMode, opts WriteOptions) (*os.File, error) {
	if err := ValidateRelativePath(rel); err != nil {
		return nil, err
	}

	full := filepath.Join(root, filepath.FromSlash(rel))
	if !isWithin(root, full) {
		return nil, portalerr.Wrap(portalerr.PathUnsafe, "resolved path escapes download root: %q", rel)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, portalerr.Wrap(portalerr.Io, "creating parent directory for %q: %w", rel, err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_EXCL
	if opts.Overwrite {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}

	f, err := os.OpenFile(full, flags, mode)
	if err != nil {
		if os.IsExist(err) {
			return nil, portalerr.Wrap(portalerr.Io, "file already exists (overwrite not enabled): %q", rel)
		}
		return nil, portalerr.Wrap(portalerr.Io, "creating %q: %w", rel, err)
	}
	return f, nil
}
