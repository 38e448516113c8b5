package cache

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/klauspost/compress/zlib"
)

// ErrCorruptEnvelope is returned when a tier-2 payload cannot be decoded.
var ErrCorruptEnvelope = errors.New(errors.CodeInternal, "cache: corrupt tier-2 envelope")

// envelope is the tier-2 representation of a cached value.
type envelope struct {
	Value      []byte    `json:"value"`
	WrittenAt  time.Time `json:"written_at"`
	Compressed bool      `json:"compressed"`
}

// encodeEnvelope wraps value for tier 2, compressing it when compression is
// enabled and the value is large enough.
func (m *Manager) encodeEnvelope(value []byte, now time.Time) ([]byte, bool, error) {
	env := envelope{Value: value, WrittenAt: now}
	if m.cfg.EnableCompression && len(value) >= m.cfg.CompressionMinSize {
		packed, err := compress(value, m.cfg.CompressionLevel)
		if err != nil {
			return nil, false, err
		}
		env.Value = packed
		env.Compressed = true
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, false, errors.Wrap(err, errors.CodeInternal, "encode envelope")
	}
	return data, env.Compressed, nil
}

func decodeEnvelope(data []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(ErrCorruptEnvelope, errors.CodeInternal, err.Error())
	}
	if !env.Compressed {
		return env.Value, nil
	}
	value, err := decompress(env.Value)
	if err != nil {
		return nil, errors.Wrap(ErrCorruptEnvelope, errors.CodeInternal, err.Error())
	}
	return value, nil
}

func compress(value []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "create zlib writer")
	}
	if _, err := w.Write(value); err != nil {
		_ = w.Close()
		return nil, errors.Wrap(err, errors.CodeInternal, "compress value")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "flush zlib writer")
	}
	return buf.Bytes(), nil
}

func decompress(packed []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(packed))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
