package config

import "reflect"

// WithDefaults returns defaults overlaid with every non-zero field of cfg.
// Nested structs are merged field by field; maps are merged key by key with
// cfg winning; bools are taken from cfg only when true, so a default of true
// cannot be switched off through an overlay.
func WithDefaults[T any](defaults, cfg T) T {
	out := defaults
	overlay(reflect.ValueOf(&out).Elem(), reflect.ValueOf(&cfg).Elem())
	return out
}

func overlay(dst, src reflect.Value) {
	switch dst.Kind() {
	case reflect.Struct:
		for i := 0; i < dst.NumField(); i++ {
			if dst.Field(i).CanSet() {
				overlay(dst.Field(i), src.Field(i))
			}
		}
	case reflect.Map:
		if src.Len() == 0 {
			return
		}
		merged := reflect.MakeMapWithSize(dst.Type(), dst.Len()+src.Len())
		for _, k := range dst.MapKeys() {
			merged.SetMapIndex(k, dst.MapIndex(k))
		}
		for _, k := range src.MapKeys() {
			merged.SetMapIndex(k, src.MapIndex(k))
		}
		dst.Set(merged)
	case reflect.Slice:
		if src.Len() > 0 {
			dst.Set(src)
		}
	default:
		if !src.IsZero() {
			dst.Set(src)
		}
	}
}
