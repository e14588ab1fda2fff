package kernel

import _ "embed"

// workerSource is the Python program that implements the worker side of the
// stdio protocol. It is written to a temporary file at startup and handed to
// the configured Python interpreter.
//
//go:embed worker.py
var workerSource string
