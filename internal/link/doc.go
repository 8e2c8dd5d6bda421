// Package link talks to the sensor over its serial line.
//
// The sensor streams one frame per sample:
//
//	s<shift>v<value>l<log_num>\n
//
// where shift is the sensor's current clock trim, value the reading and
// log_num a wrapping sequence number. The Controller binds sequence numbers
// to the local timeline, measures how far the sensor clock drifts from
// wall time and steers it back by writing '+' or '-' pulses to the line.
package link
