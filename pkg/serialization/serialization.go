// Package serialization turns fitted plugins into self-describing byte buffers
// and files, and restores them through a plugin registry.
package serialization

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/mimir-aip/prognosis-go/pkg/plugins"
)

// FormatVersion is written into every envelope.
const FormatVersion = 1

// Envelope identifies a saved plugin and carries its state.
type Envelope struct {
	Version int                    `json:"version"`
	Type    string                 `json:"type"`
	Subtype string                 `json:"subtype"`
	Name    string                 `json:"name"`
	Args    map[string]interface{} `json:"args,omitempty"`
	Payload []byte                 `json:"payload"`
}

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil)
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return encoder, decoder, codecErr
}

// Encode wraps a plugin's saved state in an envelope.
func Encode(p plugins.Plugin) (*Envelope, error) {
	if p == nil {
		return nil, errors.New("cannot encode a nil plugin")
	}
	payload, err := p.Save()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to save %s/%s", p.Type(), p.Name())
	}
	return &Envelope{
		Version: FormatVersion,
		Type:    p.Type(),
		Subtype: p.Subtype(),
		Name:    plugins.RegistryName(p),
		Args:    p.Args(),
		Payload: payload,
	}, nil
}

// Decode restores the plugin described by an envelope.
func Decode(reg *plugins.Registry, env *Envelope) (plugins.Plugin, error) {
	if env == nil {
		return nil, errors.New("cannot decode a nil envelope")
	}
	if env.Version != FormatVersion {
		return nil, errors.Errorf("unsupported model format version %d", env.Version)
	}
	p, err := reg.Load(env.Type, env.Name, env.Payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to restore plugin")
	}
	return p, nil
}

// SaveModel serializes a plugin into a compressed buffer.
func SaveModel(p plugins.Plugin) ([]byte, error) {
	env, err := Encode(p)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal model envelope")
	}
	enc, _, err := codecs()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create zstd codec")
	}
	return enc.EncodeAll(raw, nil), nil
}

// LoadModel restores a plugin from a buffer written by SaveModel.
func LoadModel(reg *plugins.Registry, data []byte) (plugins.Plugin, error) {
	_, dec, err := codecs()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create zstd codec")
	}
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decompress model")
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal model envelope")
	}
	return Decode(reg, &env)
}

// SaveModelToFile writes a model atomically, creating parent directories.
func SaveModelToFile(path string, p plugins.Plugin) error {
	data, err := SaveModel(p)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// LoadModelFromFile reads a model written by SaveModelToFile.
func LoadModelFromFile(reg *plugins.Registry, path string) (plugins.Plugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read model file %s", path)
	}
	return LoadModel(reg, data)
}

// WriteFileAtomic writes data to a temporary file next to path and renames it
// into place.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write temporary file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to sync temporary file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temporary file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "failed to move model into %s", path)
	}
	return nil
}
