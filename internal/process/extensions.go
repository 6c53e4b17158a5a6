package process

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SupportedExtensions lists the file extensions a worker accepts.
var SupportedExtensions = []string{".xlsx", ".xlsm", ".xlsb", ".xls", ".csv"}

// CheckInput rejects empty paths and files the worker cannot convert.
// Surrounding whitespace is ignored and extensions match case-insensitively.
func CheckInput(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrUnsupportedInput)
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range SupportedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedInput, filepath.Base(path))
}
