// Package tree implements the HashTree engine: content-addressed
// put/read of files and directories, path resolution, copy-on-write edits,
// and tree verification, built on pkg/block for storage, pkg/codec for
// node framing, and pkg/cryptonode for optional node encryption.
package tree

import (
	"context"
	"crypto/rand"

	"github.com/hashmesh/hashmesh/pkg/block"
	"github.com/hashmesh/hashmesh/pkg/codec"
	"github.com/hashmesh/hashmesh/pkg/cryptonode"
	"github.com/hashmesh/hashmesh/pkg/digest"
)

// Config holds the construction-time parameters of a HashTree instance.
// ChunkSize is fixed per instance: mixing two chunk sizes across calls on
// the same tree is legal but produces different root CIDs for otherwise
// identical content ("Chunking policy").
type Config struct {
	ChunkSize    uint64
	MaxBlockSize uint64
}

// DefaultConfig returns sensible defaults: a 1 MiB chunk size and a 2 MiB
// max block size.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    1 << 20,
		MaxBlockSize: 2 << 20,
	}
}

// HashTree is the tree engine. It is safe for concurrent use; concurrent
// set_entry calls against the same root each return a valid new root but
// the engine does not arbitrate which one the application should adopt
//.
type HashTree struct {
	store block.Store
	cfg   Config
}

// New constructs a HashTree over store with the given configuration.
func New(store block.Store, cfg Config) *HashTree {
	return &HashTree{store: store, cfg: cfg}
}

// putBlock encrypts plaintext under key (if non-nil, deriving the nonce
// from parent) and stores the result, returning its digest.
func (t *HashTree) putBlock(ctx context.Context, plaintext []byte, key *[digest.KeySize]byte, parent *digest.Digest) (digest.Digest, error) {
	data := plaintext
	if key != nil {
		ciphertext, err := cryptonode.Seal(*key, parent, plaintext)
		if err != nil {
			return digest.Digest{}, newError(BadEncoding, "encrypt node: %v", err)
		}
		data = ciphertext
	}

	if uint64(len(data)) > t.cfg.MaxBlockSize {
		return digest.Digest{}, newError(BadEncoding, "block of %d bytes exceeds max_block_size %d", len(data), t.cfg.MaxBlockSize)
	}

	d := digest.Sum(data)
	if _, err := t.store.Put(ctx, d, data); err != nil {
		return digest.Digest{}, err
	}
	return d, nil
}

// getBlock fetches and, if key is non-nil, decrypts the block at d.
func (t *HashTree) getBlock(ctx context.Context, d digest.Digest, key *[digest.KeySize]byte, parent *digest.Digest) ([]byte, error) {
	data, ok, err := t.store.Get(ctx, d)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(NotFound, "digest %s not resolvable", d)
	}

	if key == nil {
		return data, nil
	}
	plaintext, err := cryptonode.Open(*key, parent, data)
	if err != nil {
		return nil, newError(BadEncoding, "decrypt node %s: %v", d, err)
	}
	return plaintext, nil
}

// newKey draws a fresh node key using a cryptographically secure source.
func newKey() (*[digest.KeySize]byte, error) {
	k, err := cryptonode.NewKey(rand.Read)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// PutFile stores bytes as a leaf blob (if size <= ChunkSize) or as a
// chunked-file index over fixed-size chunks (put_file). The
// last chunk may be shorter. encrypted selects whether a fresh node key
// is generated and the returned CID carries it.
func (t *HashTree) PutFile(ctx context.Context, data []byte, encrypted bool) (digest.CID, uint64, error) {
	var key *[digest.KeySize]byte
	if encrypted {
		k, err := newKey()
		if err != nil {
			return digest.CID{}, 0, err
		}
		key = k
	}

	size := uint64(len(data))
	if size <= t.cfg.ChunkSize {
		d, err := t.putBlock(ctx, data, key, nil)
		if err != nil {
			return digest.CID{}, 0, err
		}
		return cidFor(d, key), size, nil
	}

	var entries []codec.FileIndexEntry
	for off := uint64(0); off < size; off += t.cfg.ChunkSize {
		end := off + t.cfg.ChunkSize
		if end > size {
			end = size
		}
		chunk := data[off:end]

		var chunkKey *[digest.KeySize]byte
		if encrypted {
			k, err := newKey()
			if err != nil {
				return digest.CID{}, 0, err
			}
			chunkKey = k
		}

		d, err := t.putBlock(ctx, chunk, chunkKey, nil)
		if err != nil {
			return digest.CID{}, 0, err
		}
		entries = append(entries, codec.FileIndexEntry{Target: d, Key: chunkKey, Size: uint64(len(chunk))})
	}

	indexBytes := codec.EncodeFileIndex(&codec.FileIndex{Entries: entries})
	d, err := t.putBlock(ctx, indexBytes, key, nil)
	if err != nil {
		return digest.CID{}, 0, err
	}
	return cidFor(d, key), size, nil
}

func cidFor(d digest.Digest, key *[digest.KeySize]byte) digest.CID {
	if key == nil {
		return digest.FromDigest(d)
	}
	return digest.FromDigestAndKey(d, *key)
}

// ReadFile dereferences cid and, if it names a chunked-file index,
// concatenates its chunks in order (read_file).
func (t *HashTree) ReadFile(ctx context.Context, cid digest.CID) ([]byte, error) {
	data, err := t.getBlock(ctx, cid.Digest, cid.Key, nil)
	if err != nil {
		return nil, err
	}

	index, ok := decodeAsFileIndex(data)
	if !ok {
		return data, nil
	}

	out := make([]byte, 0, index.TotalSize())
	for _, e := range index.Entries {
		chunk, err := t.getBlock(ctx, e.Target, e.Key, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// ReadFileRange fetches only the chunks intersecting [start, end) for a
// chunked file, or slices a single leaf directly (// read_file_range).
func (t *HashTree) ReadFileRange(ctx context.Context, cid digest.CID, start, end uint64) ([]byte, error) {
	if end < start {
		return nil, newError(NotFound, "invalid range [%d, %d)", start, end)
	}

	data, err := t.getBlock(ctx, cid.Digest, cid.Key, nil)
	if err != nil {
		return nil, err
	}

	index, ok := decodeAsFileIndex(data)
	if !ok {
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}
		if start > end {
			start = end
		}
		return append([]byte(nil), data[start:end]...), nil
	}

	out := make([]byte, 0, end-start)
	var offset uint64
	for _, e := range index.Entries {
		chunkStart := offset
		chunkEnd := offset + e.Size
		offset = chunkEnd

		if chunkEnd <= start || chunkStart >= end {
			continue
		}

		chunk, err := t.getBlock(ctx, e.Target, e.Key, nil)
		if err != nil {
			return nil, err
		}

		lo := uint64(0)
		if start > chunkStart {
			lo = start - chunkStart
		}
		hi := uint64(len(chunk))
		if end < chunkEnd {
			hi = end - chunkStart
		}
		if lo > uint64(len(chunk)) {
			lo = uint64(len(chunk))
		}
		if hi > uint64(len(chunk)) {
			hi = uint64(len(chunk))
		}
		if lo < hi {
			out = append(out, chunk[lo:hi]...)
		}
	}
	return out, nil
}

// Chunk is one element of a read_file_stream sequence.
type Chunk struct {
	Data []byte
	Err  error
}

// ReadFileStream yields a file's chunks in order over the returned
// channel, one fetch at a time, closing the channel after the last chunk
// or the first error (read_file_stream). The caller may abandon
// the stream at any point by cancelling ctx.
func (t *HashTree) ReadFileStream(ctx context.Context, cid digest.CID) <-chan Chunk {
	out := make(chan Chunk)

	go func() {
		defer close(out)

		data, err := t.getBlock(ctx, cid.Digest, cid.Key, nil)
		if err != nil {
			select {
			case out <- Chunk{Err: err}:
			case <-ctx.Done():
			}
			return
		}

		index, ok := decodeAsFileIndex(data)
		if !ok {
			select {
			case out <- Chunk{Data: data}:
			case <-ctx.Done():
			}
			return
		}

		for _, e := range index.Entries {
			chunk, err := t.getBlock(ctx, e.Target, e.Key, nil)
			if err != nil {
				select {
				case out <- Chunk{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- Chunk{Data: chunk}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// decodeAsFileIndex tries to parse data as a chunked-file index. A leaf
// blob need not be valid CBOR at all, and even if it decodes, a lone
// object lacking an "entries" array is treated as a leaf; callers fall
// back to treating data as a leaf on failure.
func decodeAsFileIndex(data []byte) (*codec.FileIndex, bool) {
	index, err := codec.DecodeFileIndex(data)
	if err != nil {
		return nil, false
	}
	return index, true
}

// decodeAsDirNode tries to parse data as a directory node.
func decodeAsDirNode(data []byte) (*codec.DirNode, bool) {
	node, err := codec.DecodeDirNode(data)
	if err != nil {
		return nil, false
	}
	return node, true
}

// PutDirectory stores an ordered list of entries as a new directory node
// (put_directory). Fails DuplicateName if two entries share a
// name.
func (t *HashTree) PutDirectory(ctx context.Context, entries []codec.DirEntry, encrypted bool) (digest.CID, error) {
	if err := checkNoDuplicateNames(entries); err != nil {
		return digest.CID{}, err
	}

	var key *[digest.KeySize]byte
	if encrypted {
		k, err := newKey()
		if err != nil {
			return digest.CID{}, err
		}
		key = k
	}

	nodeBytes := codec.EncodeDirNode(&codec.DirNode{Entries: entries})
	d, err := t.putBlock(ctx, nodeBytes, key, nil)
	if err != nil {
		return digest.CID{}, err
	}
	return cidFor(d, key), nil
}

func checkNoDuplicateNames(entries []codec.DirEntry) error {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Name]; dup {
			return newError(DuplicateName, "duplicate entry name %q", e.Name)
		}
		seen[e.Name] = struct{}{}
	}
	return nil
}

// ListDirectory returns a directory's entries in stored order (// list_directory).
func (t *HashTree) ListDirectory(ctx context.Context, cid digest.CID) ([]codec.DirEntry, error) {
	data, err := t.getBlock(ctx, cid.Digest, cid.Key, nil)
	if err != nil {
		return nil, err
	}
	node, err := codec.DecodeDirNode(data)
	if err != nil {
		return nil, newError(BadEncoding, "%v", err)
	}
	return node.Entries, nil
}

// ResolvePath walks path from root, returning the CID named by the
// terminal segment (resolve_path). Fails NotFound if any
// segment is absent, LinkTypeMismatch if a non-terminal segment is not a
// directory.
func (t *HashTree) ResolvePath(ctx context.Context, root digest.CID, path []string) (digest.CID, uint64, error) {
	current := root
	for i, name := range path {
		node, err := t.listDirectoryNode(ctx, current)
		if err != nil {
			return digest.CID{}, 0, err
		}
		entry, ok := node.Lookup(name)
		if !ok {
			return digest.CID{}, 0, newError(NotFound, "path segment %q not found", name)
		}

		childCID := entryCID(entry)
		if i < len(path)-1 && entry.Type != codec.LinkDir {
			return digest.CID{}, 0, newError(LinkTypeMismatch, "path segment %q is not a directory", name)
		}
		current = childCID

		if i == len(path)-1 {
			return childCID, entry.Size, nil
		}
	}
	return current, 0, nil
}

func entryCID(e codec.DirEntry) digest.CID {
	if e.Key == nil {
		return digest.FromDigest(e.Target)
	}
	return digest.FromDigestAndKey(e.Target, *e.Key)
}

func (t *HashTree) listDirectoryNode(ctx context.Context, cid digest.CID) (*codec.DirNode, error) {
	data, err := t.getBlock(ctx, cid.Digest, cid.Key, nil)
	if err != nil {
		return nil, err
	}
	node, err := codec.DecodeDirNode(data)
	if err != nil {
		return nil, newError(BadEncoding, "%v", err)
	}
	return node, nil
}

// SetEntry copy-on-write inserts or replaces (name -> child) within the
// directory at dirPath, creating missing ancestor directories as empty,
// and returns the new root CID (set_entry, "Copy-on-write
// ordering"). Decoding proceeds top-down, re-encoding bottom-up; a
// directory whose new child CID equals the old one is not rewritten and
// the call short-circuits there.
func (t *HashTree) SetEntry(ctx context.Context, root digest.CID, dirPath []string, name string, child digest.CID, size uint64, linkType codec.LinkType) (digest.CID, error) {
	newChild := codec.DirEntry{Name: name, Type: linkType, Target: child.Digest, Key: child.Key, Size: size}
	return t.rewritePath(ctx, root, dirPath, func(entries []codec.DirEntry) ([]codec.DirEntry, bool) {
		for i, e := range entries {
			if e.Name == name {
				if e.Type == newChild.Type && e.Target == newChild.Target && keysEqual(e.Key, newChild.Key) && e.Size == newChild.Size {
					return entries, false
				}
				out := append([]codec.DirEntry(nil), entries...)
				out[i] = newChild
				return out, true
			}
		}
		return append(append([]codec.DirEntry(nil), entries...), newChild), true
	})
}

// DeleteEntry copy-on-write removes name from the directory at dirPath
// and returns the new root CID (delete_entry). A missing name
// is a no-op: the original root is returned unchanged.
func (t *HashTree) DeleteEntry(ctx context.Context, root digest.CID, dirPath []string, name string) (digest.CID, error) {
	return t.rewritePath(ctx, root, dirPath, func(entries []codec.DirEntry) ([]codec.DirEntry, bool) {
		for i, e := range entries {
			if e.Name == name {
				out := append([]codec.DirEntry(nil), entries[:i]...)
				out = append(out, entries[i+1:]...)
				return out, true
			}
		}
		return entries, false
	})
}

func keysEqual(a, b *[digest.KeySize]byte) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return *a == *b
}

// rewritePath implements the shared top-down-decode, bottom-up-re-encode
// traversal behind SetEntry and DeleteEntry: edit applies the mutation at
// the directory named by the last element of dirPath (or root, if
// dirPath is empty), then every ancestor is rewritten to point at the
// new child, stopping early ("short-circuit") the moment a rewritten
// directory's CID equals its predecessor's.
func (t *HashTree) rewritePath(ctx context.Context, root digest.CID, dirPath []string, edit func([]codec.DirEntry) ([]codec.DirEntry, bool)) (digest.CID, error) {
	type frame struct {
		name    string // name this directory is reached by from its parent
		cid     digest.CID
		entries []codec.DirEntry
		present bool // false if this ancestor did not exist and was synthesized empty
	}

	frames := make([]frame, 0, len(dirPath)+1)
	current := root

	for _, name := range dirPath {
		node, err := t.listDirectoryNode(ctx, current)
		if err != nil {
			if !IsNotFound(err) {
				return digest.CID{}, err
			}
			node = &codec.DirNode{}
		}

		entry, ok := node.Lookup(name)
		frames = append(frames, frame{name: name, cid: current, entries: node.Entries})

		if !ok {
			current = digest.CID{}
			continue
		}
		if entry.Type != codec.LinkDir {
			return digest.CID{}, newError(LinkTypeMismatch, "path segment %q is not a directory", name)
		}
		current = entryCID(entry)
	}

	// current now names the target directory (possibly the zero CID if
	// it does not exist yet).
	var targetEntries []codec.DirEntry
	if !current.IsZero() {
		node, err := t.listDirectoryNode(ctx, current)
		if err != nil {
			if !IsNotFound(err) {
				return digest.CID{}, err
			}
		} else {
			targetEntries = node.Entries
		}
	}

	newEntries, changed := edit(targetEntries)
	if !changed {
		return root, nil
	}

	newCID, err := t.PutDirectory(ctx, newEntries, root.Encrypted())
	if err != nil {
		return digest.CID{}, err
	}

	// Walk ancestors bottom-up, rewriting each to point at the new child.
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		child := newCID

		replaced := false
		out := make([]codec.DirEntry, 0, len(f.entries)+1)
		for _, e := range f.entries {
			if e.Name == f.name {
				out = append(out, codec.DirEntry{Name: f.name, Type: codec.LinkDir, Target: child.Digest, Key: child.Key, Size: 0})
				replaced = true
				continue
			}
			out = append(out, e)
		}
		if !replaced {
			out = append(out, codec.DirEntry{Name: f.name, Type: codec.LinkDir, Target: child.Digest, Key: child.Key, Size: 0})
		}

		parentCID, err := t.PutDirectory(ctx, out, root.Encrypted())
		if err != nil {
			return digest.CID{}, err
		}

		if parentCID.Equal(f.cid) {
			// Unchanged: every ancestor above this one is unaffected too.
			return root, nil
		}
		newCID = parentCID
	}

	return newCID, nil
}

// Node is a decoded directory or chunked-file index, as returned by
// GetTreeNode (get_tree_node).
type Node struct {
	Dir   *codec.DirNode
	Index *codec.FileIndex
}

// GetTreeNode returns the decoded node at cid, or nil if it is a leaf
// blob (get_tree_node).
func (t *HashTree) GetTreeNode(ctx context.Context, cid digest.CID) (*Node, error) {
	data, err := t.getBlock(ctx, cid.Digest, cid.Key, nil)
	if err != nil {
		return nil, err
	}
	if dir, ok := decodeAsDirNode(data); ok {
		return &Node{Dir: dir}, nil
	}
	if index, ok := decodeAsFileIndex(data); ok {
		return &Node{Index: index}, nil
	}
	return nil, nil
}

// VerifyResult is the outcome of VerifyTree.
type VerifyResult struct {
	Valid   bool
	Missing []digest.Digest
}

// VerifyTree performs a breadth-first walk of every digest reachable from
// root, reporting any that fail to resolve (verify_tree).
func (t *HashTree) VerifyTree(ctx context.Context, root digest.CID) (VerifyResult, error) {
	visited := make(map[digest.Digest]struct{})
	var missing []digest.Digest

	queue := []digest.CID{root}
	for len(queue) > 0 {
		cid := queue[0]
		queue = queue[1:]

		if _, seen := visited[cid.Digest]; seen {
			continue
		}
		visited[cid.Digest] = struct{}{}

		data, err := t.getBlock(ctx, cid.Digest, cid.Key, nil)
		if err != nil {
			if IsNotFound(err) {
				missing = append(missing, cid.Digest)
				continue
			}
			return VerifyResult{}, err
		}

		if dir, ok := decodeAsDirNode(data); ok {
			for _, e := range dir.Entries {
				queue = append(queue, entryCID(e))
			}
			continue
		}
		if index, ok := decodeAsFileIndex(data); ok {
			for _, e := range index.Entries {
				child := digest.FromDigest(e.Target)
				if e.Key != nil {
					child = digest.FromDigestAndKey(e.Target, *e.Key)
				}
				queue = append(queue, child)
			}
			continue
		}
		// Leaf blob: no further links.
	}

	return VerifyResult{Valid: len(missing) == 0, Missing: missing}, nil
}
