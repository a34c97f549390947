package assert

import "reflect"

// NotNil panics if value is nil, including typed nil pointers, maps, slices and funcs.
func NotNil(value any) {
	if value == nil {
		panic("expected value to be not nil")
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		if v.IsNil() {
			panic("expected value to be not nil")
		}
	}
}

func NotEmptyStr(str string) {
	if str == "" {
		panic("expected string to be non-empty")
	}
}
