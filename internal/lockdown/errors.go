package lockdown

import "fmt"

// ErrServiceNotFound is returned when a requested service name is absent
// from the RSD catalog (spec.md §4.8 step 2).
type ErrServiceNotFound struct {
	Name string
}

func (e *ErrServiceNotFound) Error() string {
	return fmt.Sprintf("lockdown: service not found: %s", e.Name)
}

// ErrServiceStartFailed is returned when the device's StartService ack
// carries a non-zero Error (spec.md §4.8 step 4).
type ErrServiceStartFailed struct {
	Code        string
	Description string
}

func (e *ErrServiceStartFailed) Error() string {
	return fmt.Sprintf("lockdown: service start failed (%s): %s", e.Code, e.Description)
}
