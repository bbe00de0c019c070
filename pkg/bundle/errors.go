package bundle

import "errors"

var (
	ErrInvalidMagic     = errors.New("invalid RTB magic")
	ErrUnsupportedMajor = errors.New("unsupported RTB major version")
	ErrCorruptFile      = errors.New("corrupt RTB file")
)
