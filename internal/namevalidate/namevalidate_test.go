package namevalidate

import "testing"

func TestValid(t *testing.T) {
	cases := map[string]bool{
		"greeting":                       true,
		"conflicting-counter":            true,
		"module_1":                       true,
		"":                               false,
		"1module":                        false,
		"_leading_underscore":            false,
		"-leading-hyphen":                false,
		"has space":                      false,
		"has.dot":                        false,
		"Name_with_leading_underscore":   true,
		"_Name_with_leading_underscore":  false,
	}
	for name, want := range cases {
		if got := Valid(name); got != want {
			t.Errorf("Valid(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestWasmFileName(t *testing.T) {
	if got := WasmFileName("greeting"); got != "greeting.wasm" {
		t.Errorf("WasmFileName = %q", got)
	}
}
