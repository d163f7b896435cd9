// Package codec implements the deterministic, bit-exact encoding and
// decoding of directory nodes and chunked-file index nodes.
// Encoding rides on the canonical CBOR substrate already used for every
// other wire-visible structure in this codebase (pkg/codec/cborcanon),
// which resolves the framing Open Question in favor of one deterministic
// format instead of hand-rolled varints.
package codec

import (
	"fmt"
	"unicode/utf8"

	"github.com/hashmesh/hashmesh/pkg/codec/cborcanon"
	"github.com/hashmesh/hashmesh/pkg/digest"
)

// LinkType distinguishes a blob link from a directory link in a DirNode entry.
type LinkType uint8

const (
	// LinkBlob references a leaf blob or a chunked-file index.
	LinkBlob LinkType = 0
	// LinkDir references a directory node.
	LinkDir LinkType = 1
)

func (t LinkType) String() string {
	switch t {
	case LinkBlob:
		return "blob"
	case LinkDir:
		return "dir"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// BadEncoding is returned by Decode functions when the input bytes do not
// describe a well-formed node (truncated input, unknown link
// type, non-UTF-8 name, duplicate name, oversized name length).
type BadEncoding struct {
	Reason string
}

func (e *BadEncoding) Error() string {
	return fmt.Sprintf("codec: bad encoding: %s", e.Reason)
}

func badEncoding(format string, args ...interface{}) error {
	return &BadEncoding{Reason: fmt.Sprintf(format, args...)}
}

// wireKey carries an optional child key (present only when the parent node
// is encrypted and the child is itself a referenced node); absent for plain
// digests. CBOR omits it entirely when nil, keeping unencrypted trees free
// of key material on the wire.
type wireKey = *[digest.KeySize]byte

// kindDir and kindIndex tag the two node shapes so a decoder can tell
// them apart (and reject one as the other) instead of relying on
// structural overlap between their entry shapes.
const (
	kindDir   = "dir"
	kindIndex = "index"
)

// dirEntryWire is the on-the-wire shape of one directory entry.
type dirEntryWire struct {
	Name   string   `cbor:"name"`
	Type   uint8    `cbor:"type"`
	Target []byte   `cbor:"target"`
	Key    wireKey  `cbor:"key,omitempty"`
	Size   uint64   `cbor:"size"`
}

type dirNodeWire struct {
	Kind    string         `cbor:"kind"`
	Entries []dirEntryWire `cbor:"entries"`
}

// DirEntry is one named link in a decoded directory node.
type DirEntry struct {
	Name   string
	Type   LinkType
	Target digest.Digest
	Key    *[digest.KeySize]byte
	Size   uint64
}

// DirNode is the decoded form of a directory block: an ordered list of
// named entries, unique by name within the directory.
type DirNode struct {
	Entries []DirEntry
}

// EncodeDirNode serializes a directory node. It is total: given any valid
// DirNode value it always succeeds ("Encoders never fail").
func EncodeDirNode(n *DirNode) []byte {
	wire := dirNodeWire{Kind: kindDir, Entries: make([]dirEntryWire, len(n.Entries))}
	for i, e := range n.Entries {
		wire.Entries[i] = dirEntryWire{
			Name:   e.Name,
			Type:   uint8(e.Type),
			Target: e.Target.Bytes(),
			Key:    e.Key,
			Size:   e.Size,
		}
	}
	return cborcanon.MarshalToBytes(wire)
}

// DecodeDirNode parses a directory node, rejecting malformed input.
func DecodeDirNode(data []byte) (*DirNode, error) {
	var wire dirNodeWire
	if err := cborcanon.Unmarshal(data, &wire); err != nil {
		return nil, badEncoding("truncated or malformed directory node: %v", err)
	}
	if wire.Kind != kindDir {
		return nil, badEncoding("not a directory node (kind %q)", wire.Kind)
	}

	seen := make(map[string]struct{}, len(wire.Entries))
	out := &DirNode{Entries: make([]DirEntry, 0, len(wire.Entries))}

	for i, we := range wire.Entries {
		if !utf8.ValidString(we.Name) {
			return nil, badEncoding("entry %d: name is not valid UTF-8", i)
		}
		if _, dup := seen[we.Name]; dup {
			return nil, badEncoding("duplicate entry name %q", we.Name)
		}
		seen[we.Name] = struct{}{}

		lt := LinkType(we.Type)
		if lt != LinkBlob && lt != LinkDir {
			return nil, badEncoding("entry %d: unknown link type %d", i, we.Type)
		}

		target, err := digest.FromBytes(we.Target)
		if err != nil {
			return nil, badEncoding("entry %d: %v", i, err)
		}

		out.Entries = append(out.Entries, DirEntry{
			Name:   we.Name,
			Type:   lt,
			Target: target,
			Key:    we.Key,
			Size:   we.Size,
		})
	}

	return out, nil
}

// FileIndexEntry is one chunk reference in a chunked-file index.
type FileIndexEntry struct {
	Target digest.Digest
	Key    *[digest.KeySize]byte
	Size   uint64
}

type fileIndexEntryWire struct {
	Target []byte  `cbor:"target"`
	Key    wireKey `cbor:"key,omitempty"`
	Size   uint64  `cbor:"size"`
}

type fileIndexWire struct {
	Kind    string               `cbor:"kind"`
	Entries []fileIndexEntryWire `cbor:"entries"`
}

// FileIndex is the decoded form of a chunked-file index node: an ordered
// list of chunk digests whose concatenation is the file content.
type FileIndex struct {
	Entries []FileIndexEntry
}

// EncodeFileIndex serializes a chunked-file index node. Total, like
// EncodeDirNode.
func EncodeFileIndex(n *FileIndex) []byte {
	wire := fileIndexWire{Kind: kindIndex, Entries: make([]fileIndexEntryWire, len(n.Entries))}
	for i, e := range n.Entries {
		wire.Entries[i] = fileIndexEntryWire{
			Target: e.Target.Bytes(),
			Key:    e.Key,
			Size:   e.Size,
		}
	}
	return cborcanon.MarshalToBytes(wire)
}

// DecodeFileIndex parses a chunked-file index node.
func DecodeFileIndex(data []byte) (*FileIndex, error) {
	var wire fileIndexWire
	if err := cborcanon.Unmarshal(data, &wire); err != nil {
		return nil, badEncoding("truncated or malformed file index: %v", err)
	}
	if wire.Kind != kindIndex {
		return nil, badEncoding("not a file index (kind %q)", wire.Kind)
	}

	out := &FileIndex{Entries: make([]FileIndexEntry, len(wire.Entries))}
	for i, we := range wire.Entries {
		target, err := digest.FromBytes(we.Target)
		if err != nil {
			return nil, badEncoding("entry %d: %v", i, err)
		}
		out.Entries[i] = FileIndexEntry{Target: target, Key: we.Key, Size: we.Size}
	}
	return out, nil
}

// TotalSize returns the sum of the plaintext sizes of a file index's entries.
func (n *FileIndex) TotalSize() uint64 {
	var total uint64
	for _, e := range n.Entries {
		total += e.Size
	}
	return total
}

// Lookup returns the entry with the given name and whether it was found.
func (n *DirNode) Lookup(name string) (DirEntry, bool) {
	for _, e := range n.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return DirEntry{}, false
}
