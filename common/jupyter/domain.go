package jupyter

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionFile         = errors.New("failed to read connection file")
	ErrConnectionFileDecode   = errors.New("failed to decode connection file")
	ErrMissingConnectionField = errors.New("connection file is missing a required field")
	ErrUnsupportedTransport   = fmt.Errorf("unsupported transport")
)
