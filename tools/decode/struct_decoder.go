package decode

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"

	"PRealtime/tools/errs"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// Options 用于定制 Decode 行为。
type Options struct {
	// 是否启用宽松解码（默认 true）：
	// 例如 "123" -> int、1.0 -> int64 等。
	WeaklyTypedInput bool
	// BareKey 不为空时，data 可以直接是字符串，
	// 等价于 {BareKey: data}（register-user / join-room 这类老客户端）。
	BareKey string
}

// DefaultOptions 返回默认选项。
func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: true,
	}
}

// WithBareKey 允许 data 为裸字符串。
func WithBareKey(key string) Options {
	o := DefaultOptions()
	o.BareKey = key
	return o
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// 错误信息里用 json 字段名
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Payload 把事件 data 解码到 T 并做 validate 校验。
// 结构体字段读取使用 `json` tag；失败统一返回 errs.ErrMalformedEvent。
func Payload[T any](raw json.RawMessage, opts ...Options) (*T, error) {
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	m, err := ToMap(raw, cfg.BareKey)
	if err != nil {
		return nil, err
	}

	var out T
	decCfg := &mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			floatToIntHook(),
			jsonRawStringToMapHook(),
		),
	}
	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return nil, errs.ErrInternal.WrapMsg("new decoder", "err", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, errs.ErrMalformedEvent.WrapMsg(err.Error())
	}

	if err := validatorInstance().Struct(&out); err != nil {
		return nil, errs.ErrMalformedEvent.WrapMsg(describe(err))
	}
	return &out, nil
}

// ToMap 把 data 解析为 map；bareKey 不为空时接受裸字符串。
func ToMap(raw json.RawMessage, bareKey string) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, errs.ErrMalformedEvent.WrapMsg("missing data")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errs.ErrMalformedEvent.WrapMsg("invalid json", "err", err)
	}
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case string:
		if bareKey != "" {
			return map[string]any{bareKey: t}, nil
		}
	}
	return nil, errs.ErrMalformedEvent.WrapMsg("data must be an object")
}

// ReadString 从 map 中读取非空 string 字段。
func ReadString(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func describe(err error) string {
	ves, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(ves))
	for _, fe := range ves {
		parts = append(parts, fe.Field()+" is "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

// -----------------------------
// Decode Hooks
// -----------------------------

// floatToIntHook：把 float64 自动转为 int / int32 / int64。
func floatToIntHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		switch to {
		case reflect.Int:
			return int(data.(float64)), nil
		case reflect.Int32:
			return int32(data.(float64)), nil
		case reflect.Int64:
			return int64(data.(float64)), nil
		}
		return data, nil
	}
}

// jsonRawStringToMapHook：把 JSON 字符串自动转为 map[string]any（用于某些嵌套字符串 JSON 字段）。
func jsonRawStringToMapHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.String || to != reflect.Map {
			return data, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(data.(string)), &m); err == nil {
			return m, nil
		}
		return data, nil
	}
}
