package blip

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/zeusync/blip/pkg/encoding"
)

// errTruncatedProperties means the properties block isn't fully present
// yet; the caller should retry once more frames of this message arrive.
// It never escapes to a caller of the public API.
var errTruncatedProperties = errors.New("blip: truncated properties block")

// specialProperties is the wire-stable tokenization table from §6. Token
// values start at 0x01 and are assigned by array position; this array
// must never be reordered or have entries removed without breaking wire
// compatibility with every peer that has ever spoken this protocol.
var specialProperties = [...]string{
	"Profile",
	"Error-Code",
	"Error-Domain",

	"Content-Type",
	"application/json",
	"application/octet-stream",
	"text/plain; charset=UTF-8",
	"text/xml",

	"Accept",
	"Cache-Control",
	"must-revalidate",
	"If-Match",
	"If-None-Match",
	"Location",
}

var propertyTokens = func() map[string]byte {
	m := make(map[string]byte, len(specialProperties))
	for i, s := range specialProperties {
		m[s] = byte(i + 1)
	}
	return m
}()

// Property is one (name, value) pair. Both must be UTF-8, must not
// contain a NUL byte, and must not begin with a byte < 0x20 unless empty
// (so a decoder can tell a literal string apart from a token byte).
type Property struct {
	Name  string
	Value string
}

// Properties is an ordered list of Property pairs, matching BLIP's
// requirement that property order be preserved across encode/decode.
type Properties struct {
	items []Property
}

var _ encoding.Serializable[*Properties] = (*Properties)(nil)

// NewProperties builds a Properties set from name/value pairs, in order.
func NewProperties(pairs ...string) *Properties {
	p := &Properties{}
	for i := 0; i+1 < len(pairs); i += 2 {
		p.Add(pairs[i], pairs[i+1])
	}
	return p
}

// Add appends a property, preserving insertion order even if the name
// repeats (BLIP properties are a list, not a map).
func (p *Properties) Add(name, value string) {
	p.items = append(p.items, Property{Name: name, Value: value})
}

// Get returns the value of the first property with the given name.
func (p *Properties) Get(name string) (string, bool) {
	for _, it := range p.items {
		if it.Name == name {
			return it.Value, true
		}
	}
	return "", false
}

// Len returns the number of properties.
func (p *Properties) Len() int { return len(p.items) }

// All returns the properties in wire order. The returned slice must not
// be mutated by the caller.
func (p *Properties) All() []Property { return p.items }

func validatePropertyString(s string) error {
	if len(s) == 0 {
		return nil
	}
	if bytes.IndexByte([]byte(s), 0) >= 0 {
		return ErrNulByteInProperty
	}
	if s[0] < 0x20 {
		return ErrNulByteInProperty
	}
	return nil
}

// Serialize implements encoding.Serializable, used by golden/round-trip
// tests that want to compare a properties block by its encoded bytes
// instead of walking the (name, value) list by hand.
func (p *Properties) Serialize() ([]byte, error) {
	return encodeProperties(p)
}

// Deserialize implements encoding.Serializable.
func (p *Properties) Deserialize(data []byte) error {
	decoded, _, err := decodeProperties(data)
	if err != nil {
		return err
	}
	p.items = decoded.items
	return nil
}

// digest returns a fast, non-cryptographic hash of the encoded properties
// block, used by tests to assert reassembled properties match what was
// sent without a byte-by-byte slice comparison.
func (p *Properties) digest() (uint64, error) {
	encoded, err := encodeProperties(p)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(encoded), nil
}

// encodeProperties writes varint(byteLen) || [ name NUL value NUL ]* where
// a name or value equal to one of the tokenizable strings is written as a
// single token byte instead of its literal text plus NUL.
func encodeProperties(p *Properties) ([]byte, error) {
	var body bytes.Buffer
	for _, it := range p.items {
		if err := validatePropertyString(it.Name); err != nil {
			return nil, err
		}
		if err := validatePropertyString(it.Value); err != nil {
			return nil, err
		}
		writeTokenizedString(&body, it.Name)
		writeTokenizedString(&body, it.Value)
	}

	lenBuf := make([]byte, maxVarintLen64)
	n := putUvarint(lenBuf, uint64(body.Len()))

	out := make([]byte, 0, n+body.Len())
	out = append(out, lenBuf[:n]...)
	out = append(out, body.Bytes()...)
	return out, nil
}

func writeTokenizedString(buf *bytes.Buffer, s string) {
	if tok, ok := propertyTokens[s]; ok {
		buf.WriteByte(tok)
		return
	}
	buf.WriteString(s)
	buf.WriteByte(0)
}

// decodeProperties parses a properties block from the front of data,
// returning the parsed Properties, the number of bytes consumed
// (including the length prefix), and an error if the block is malformed.
// It applies no size limit; decodePropertiesLimited rejects blocks whose
// declared length exceeds maxSize.
func decodeProperties(data []byte) (*Properties, int, error) {
	return decodePropertiesLimited(data, 0)
}

func decodePropertiesLimited(data []byte, maxSize int) (*Properties, int, error) {
	propsLen, n, status := readUvarintStatus(data)
	switch status {
	case varintIncomplete:
		return nil, 0, errTruncatedProperties
	case varintMalformed:
		return nil, 0, fmt.Errorf("blip: malformed properties length")
	}
	if maxSize > 0 && propsLen > uint64(maxSize) {
		return nil, 0, ErrPropertiesTooLarge
	}
	if uint64(len(data)-n) < propsLen {
		return nil, 0, errTruncatedProperties
	}

	body := data[n : n+int(propsLen)]
	props := &Properties{}
	var strs []string
	for len(body) > 0 {
		s, rest, err := readTokenizedString(body)
		if err != nil {
			return nil, 0, err
		}
		strs = append(strs, s)
		body = rest
	}
	if len(strs)%2 != 0 {
		return nil, 0, fmt.Errorf("blip: odd number of property strings")
	}
	for i := 0; i+1 < len(strs); i += 2 {
		props.items = append(props.items, Property{Name: strs[i], Value: strs[i+1]})
	}
	return props, n + int(propsLen), nil
}

func readTokenizedString(body []byte) (string, []byte, error) {
	if len(body) == 0 {
		return "", nil, fmt.Errorf("blip: unexpected end of properties block")
	}
	if body[0] >= 0x01 && body[0] <= 0x0E {
		return specialProperties[body[0]-1], body[1:], nil
	}
	idx := bytes.IndexByte(body, 0)
	if idx < 0 {
		return "", nil, fmt.Errorf("blip: unterminated property string")
	}
	return string(body[:idx]), body[idx+1:], nil
}
