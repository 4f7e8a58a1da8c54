package wire

import (
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// EncodeDeflate concatenates the wire encoding of each message in msgs,
// compresses the run with snappy (the same library kcptun uses for its
// always-on stream compression), and wraps the result in a Deflate
// envelope addressed to head.
func EncodeDeflate(head Header, msgs []Message) (*Deflate, error) {
	var raw []byte
	for _, m := range msgs {
		enc, err := Encode(m)
		if err != nil {
			return nil, errors.Wrap(err, "encode inner message")
		}
		raw = append(raw, enc...)
	}
	compressed := snappy.Encode(nil, raw)
	return &Deflate{
		Header:           head,
		UncompressedSize: uint32(len(raw)),
		Compressed:       compressed,
	}, nil
}

// DecodeDeflate reverses EncodeDeflate: it inflates the compressed payload
// and decodes the concatenated run of messages it contains.
func DecodeDeflate(d *Deflate) ([]Message, error) {
	raw, err := snappy.Decode(nil, d.Compressed)
	if err != nil {
		return nil, errors.Wrap(err, "snappy decode")
	}
	if uint32(len(raw)) != d.UncompressedSize {
		return nil, malformed("Deflate uncompressed size mismatch")
	}

	var out []Message
	for len(raw) > 0 {
		res, err := Decode(raw)
		if err != nil {
			if _, ok := err.(*NeedMoreError); ok {
				return nil, malformed("Deflate payload truncates a trailing message")
			}
			return nil, errors.Wrap(err, "decode inner message")
		}
		out = append(out, res.Messages...)
		raw = raw[res.Consumed:]
	}
	return out, nil
}
