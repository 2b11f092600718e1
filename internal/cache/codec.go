package cache

import (
	"github.com/klauspost/compress/zstd"
	"github.com/rotisserie/eris"
)

const (
	frameRaw  byte = 0
	frameZstd byte = 1
)

// Codec frames values with a one-byte header naming the encoding.
// EncodeAll/DecodeAll make a single Codec safe for concurrent use.
type Codec struct {
	minSize int
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

// NewCodec builds a codec that compresses payloads of at least minSize bytes.
func NewCodec(minSize int) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, eris.Wrap(err, "create zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, eris.Wrap(err, "create zstd decoder")
	}
	return &Codec{minSize: minSize, enc: enc, dec: dec}, nil
}

// Encode returns the framed form of value.
func (c *Codec) Encode(value []byte) []byte {
	if len(value) >= c.minSize && len(value) > 0 {
		out := make([]byte, 1, len(value)/2+1)
		out[0] = frameZstd
		out = c.enc.EncodeAll(value, out)
		if len(out) < len(value)+1 {
			return out
		}
	}
	out := make([]byte, 0, len(value)+1)
	out = append(out, frameRaw)
	return append(out, value...)
}

// Decode reverses Encode.
func (c *Codec) Decode(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, eris.New("empty cache frame")
	}
	switch frame[0] {
	case frameRaw:
		return append([]byte{}, frame[1:]...), nil
	case frameZstd:
		out, err := c.dec.DecodeAll(frame[1:], nil)
		if err != nil {
			return nil, eris.Wrap(err, "zstd decode")
		}
		if out == nil {
			out = []byte{}
		}
		return out, nil
	default:
		return nil, eris.Errorf("unknown cache frame type %d", frame[0])
	}
}
