package utils

import (
	"bytes"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/saiset-co/giro-sync/types"
)

// numberAPI keeps JSON numbers as json.Number so large integer ids survive
// decoding into interface{} values.
var numberAPI = sonic.Config{UseNumber: true}.Froze()

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 1024))
	},
}

func Marshal(data interface{}) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		if buf.Cap() < 64*1024 {
			bufferPool.Put(buf)
		}
	}()

	if err := sonic.ConfigDefault.NewEncoder(buf).Encode(data); err != nil {
		return nil, err
	}

	// Encoder appends a trailing newline.
	out := bytes.TrimRight(buf.Bytes(), "\n")
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

func Unmarshal[T any](data []byte, target *T) error {
	return sonic.ConfigDefault.Unmarshal(data, target)
}

// UnmarshalNumbers is Unmarshal with numbers in interface{} values decoded
// as json.Number.
func UnmarshalNumbers[T any](data []byte, target *T) error {
	return numberAPI.Unmarshal(data, target)
}

// UnmarshalConfig decodes a loosely typed config block (as produced by the
// YAML decoder) into target.
func UnmarshalConfig[T any](config interface{}, target *T) error {
	if config == nil {
		return types.ErrConfigIsNil
	}

	if typed, ok := config.(*T); ok {
		*target = *typed
		return nil
	}
	if typed, ok := config.(T); ok {
		*target = typed
		return nil
	}

	configBytes, err := sonic.ConfigDefault.Marshal(config)
	if err != nil {
		return types.WrapError(err, "failed to marshal config block")
	}

	return sonic.ConfigDefault.Unmarshal(configBytes, target)
}

// Convert turns generic data (maps and slices restored from a snapshot)
// into T. Values that already have type T are returned as is.
func Convert[T any](data interface{}) (T, error) {
	return convert[T](sonic.ConfigDefault, data)
}

// ConvertNumbers is Convert for loosely typed payloads whose numeric ids must
// not pass through float64.
func ConvertNumbers[T any](data interface{}) (T, error) {
	return convert[T](numberAPI, data)
}

func convert[T any](api sonic.API, data interface{}) (T, error) {
	var target T

	if data == nil {
		return target, nil
	}
	if typed, ok := data.(T); ok {
		return typed, nil
	}

	raw, err := api.Marshal(data)
	if err != nil {
		return target, types.Errorf(types.ErrCacheTypeMismatch, "%T: %v", data, err)
	}
	if err = api.Unmarshal(raw, &target); err != nil {
		return target, types.Errorf(types.ErrCacheTypeMismatch, "%T into %T: %v", data, target, err)
	}

	return target, nil
}
