package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

const SchemaVersion = 1

var api = sonic.ConfigStd

type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

func Encode(v any) ([]byte, error) {
	data, err := api.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: can't marshal payload", err)
	}
	return api.Marshal(envelope{Version: SchemaVersion, Data: data})
}

// Decode reads a versioned envelope, or a bare legacy payload written without one.
func Decode(key string, blob []byte, v any) error {
	if first := firstNonWS(blob); first == '{' {
		var head map[string]json.RawMessage
		if err := api.Unmarshal(blob, &head); err != nil {
			return Corrupt(key, err)
		}
		if rawVersion, ok := head["version"]; ok {
			var env envelope
			if err := api.Unmarshal(blob, &env); err != nil {
				return Corrupt(key, err)
			}
			if env.Version != SchemaVersion {
				return Corrupt(key, fmt.Errorf("unsupported schema version %s", rawVersion))
			}
			if len(env.Data) == 0 {
				return Corrupt(key, errors.New("empty data"))
			}
			if err := api.Unmarshal(env.Data, v); err != nil {
				return Corrupt(key, err)
			}
			return nil
		}
	}

	if err := api.Unmarshal(blob, v); err != nil {
		return Corrupt(key, err)
	}
	return nil
}

// LoadJSON loads and decodes key into v. It reports false when the key is absent.
func LoadJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	blob, err := s.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: can't load %s", err, key)
	}
	if err := Decode(key, blob, v); err != nil {
		return false, err
	}
	return true, nil
}

func SaveJSON(ctx context.Context, s Store, key string, v any) error {
	blob, err := Encode(v)
	if err != nil {
		return err
	}
	if err := s.Save(ctx, key, blob); err != nil {
		return fmt.Errorf("%w: can't save %s", err, key)
	}
	return nil
}

func firstNonWS(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\n', '\t', '\r':
			continue
		default:
			return c
		}
	}
	return 0
}
