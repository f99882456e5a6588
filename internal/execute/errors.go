package execute

import "errors"

var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrEmptyCode           = errors.New("code cannot be empty")
	ErrUpstream            = errors.New("execution service failed")
)
