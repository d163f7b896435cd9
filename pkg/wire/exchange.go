package wire

import (
	"fmt"

	"github.com/hashmesh/hashmesh/pkg/codec/cborcanon"
	"github.com/hashmesh/hashmesh/pkg/digest"
)

// Tag is the 1-byte frame-kind prefix every block-exchange datagram begins
// with ("Wire format"). Unlike BaseFrame, an exchange frame carries no
// sender identity, sequence number, or signature — peer-session identity
// is authenticated once, by the noiseik hello/verify exchange run before
// a session is admitted (see pkg/node.admitInboundConn/connectOutboundConn),
// not re-derived per datagram. That handshake does not encrypt the
// connection; exchange frames travel in the clear over whatever transport
// session carries them.
type Tag byte

const (
	// TagRequest marks a (hash, htl) request frame.
	TagRequest Tag = 0x00
	// TagResponse marks a (hash, data, fragment?) response frame.
	TagResponse Tag = 0x01
)

// RequestBody is the body of a request frame: the digest being asked for
// and its remaining hops-to-live.
type RequestBody struct {
	Hash []byte `cbor:"hash"`
	HTL  uint8  `cbor:"htl"`
}

// ResponseBody is the body of a response frame. FragmentIndex and
// FragmentTotal are present only when the response is fragmented: the
// payload exceeds fragment_size.
type ResponseBody struct {
	Hash          []byte  `cbor:"hash"`
	Data          []byte  `cbor:"data"`
	FragmentIndex *uint32 `cbor:"fragment_index,omitempty"`
	FragmentTotal *uint32 `cbor:"fragment_total,omitempty"`
}

// EncodeRequest serializes a request frame: tag byte followed by canonical
// CBOR of RequestBody.
func EncodeRequest(hash digest.Digest, htl uint8) []byte {
	body := RequestBody{Hash: hash.Bytes(), HTL: htl}
	return append([]byte{byte(TagRequest)}, cborcanon.MarshalToBytes(body)...)
}

// EncodeResponse serializes a non-fragmented response frame.
func EncodeResponse(hash digest.Digest, data []byte) []byte {
	body := ResponseBody{Hash: hash.Bytes(), Data: data}
	return append([]byte{byte(TagResponse)}, cborcanon.MarshalToBytes(body)...)
}

// EncodeResponseFragment serializes one fragment of a fragmented response.
// index and total satisfy 0 <= index < total.
func EncodeResponseFragment(hash digest.Digest, data []byte, index, total uint32) []byte {
	body := ResponseBody{Hash: hash.Bytes(), Data: data, FragmentIndex: &index, FragmentTotal: &total}
	return append([]byte{byte(TagResponse)}, cborcanon.MarshalToBytes(body)...)
}

// DecodeFrame inspects the leading tag byte and decodes the remainder as
// the matching body type. It returns (tag, *RequestBody, nil, nil) for a
// request and (tag, nil, *ResponseBody, nil) for a response.
func DecodeFrame(data []byte) (Tag, *RequestBody, *ResponseBody, error) {
	if len(data) < 1 {
		return 0, nil, nil, fmt.Errorf("wire: empty frame")
	}
	tag := Tag(data[0])
	rest := data[1:]

	switch tag {
	case TagRequest:
		var body RequestBody
		if err := cborcanon.Unmarshal(rest, &body); err != nil {
			return 0, nil, nil, fmt.Errorf("wire: malformed request frame: %w", err)
		}
		return tag, &body, nil, nil
	case TagResponse:
		var body ResponseBody
		if err := cborcanon.Unmarshal(rest, &body); err != nil {
			return 0, nil, nil, fmt.Errorf("wire: malformed response frame: %w", err)
		}
		return tag, nil, &body, nil
	default:
		return 0, nil, nil, fmt.Errorf("wire: unknown frame tag 0x%02x", byte(tag))
	}
}

// HashDigest parses a RequestBody/ResponseBody's raw hash bytes into a
// digest.Digest.
func HashDigest(raw []byte) (digest.Digest, error) {
	return digest.FromBytes(raw)
}

// IsFragmented reports whether a decoded ResponseBody is one fragment of
// a larger reassembly rather than a complete response.
func (b *ResponseBody) IsFragmented() bool {
	return b.FragmentIndex != nil && b.FragmentTotal != nil
}
