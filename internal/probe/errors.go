// Package probe reads container metadata with ffprobe.
package probe

import "errors"

var errNoDuration = errors.New("ffprobe reported no usable duration")
