package logs

import logging "github.com/ipfs/go-log/v2"

// SetAllLoggers sets one level on every component logger. Store recovery is
// chatty on large chains, so its details stay behind WARN unless debug
// logging is asked for explicitly.
func SetAllLoggers(level logging.LogLevel) {
	logging.SetAllLoggers(level)
	_ = logging.SetLogLevel("spv/store", "WARN")
}

// SetDebugLogging enables DEBUG on every component logger.
func SetDebugLogging() {
	logging.SetAllLoggers(logging.LevelDebug)
}
