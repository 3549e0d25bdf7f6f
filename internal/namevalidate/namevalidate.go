// Package namevalidate implements the module-name rule from spec.md
// §4.9: accepted iff nonempty, starts with an ASCII letter, and every
// subsequent character is ASCII alphanumeric, underscore, or hyphen.
package namevalidate

// Valid reports whether name satisfies the module-name rule.
func Valid(name string) bool {
	if len(name) == 0 {
		return false
	}
	if !isASCIILetter(name[0]) {
		return false
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		if !isASCIILetter(c) && !isASCIIDigit(c) && c != '_' && c != '-' {
			return false
		}
	}
	return true
}

// WasmFileName returns the filename a valid module name resolves to
// under a wasm directory: file discovery additionally requires a
// ".wasm" extension (spec.md §4.9).
func WasmFileName(name string) string {
	return name + ".wasm"
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isASCIIDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
