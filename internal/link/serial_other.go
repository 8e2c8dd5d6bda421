//go:build !linux

package link

import "os"

// OpenSerial opens device for reading and writing. Line settings are left
// as configured by the system.
func OpenSerial(device string) (Port, error) {
	return os.OpenFile(device, os.O_RDWR, 0)
}
