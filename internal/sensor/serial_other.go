//go:build !linux

package sensor

import (
	"errors"
	"io"
)

var errSerialUnsupported = errors.New("serial sensors are only supported on linux; use a tcp bridge")

func openSerial(device string, baud int) (io.ReadCloser, error) {
	return nil, errSerialUnsupported
}
