package importer

import "errors"

var ErrCycleRunning = errors.New("import cycle already running")
