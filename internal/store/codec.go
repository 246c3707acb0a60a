package store

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"cyodesign.app/atelier/internal/model"
)

// Transcripts carry inline images until they are externalized, so they are
// stored zstd-compressed.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

func encodeTurns(turns []model.Turn) ([]byte, error) {
	if turns == nil {
		turns = []model.Turn{}
	}
	raw, err := json.Marshal(turns)
	if err != nil {
		return nil, fmt.Errorf("encoding transcript: %w", err)
	}
	return encoder.EncodeAll(raw, nil), nil
}

func decodeTurns(data []byte) ([]model.Turn, error) {
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing transcript: %w", err)
	}
	var turns []model.Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, fmt.Errorf("decoding transcript: %w", err)
	}
	return turns, nil
}
