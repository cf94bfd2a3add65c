package audio

import "fmt"

// DeviceError reports a microphone or speaker acquisition failure.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
