// Package gpubsub contains the single-writer, many-reader notification stream
// used to report input acknowledgements and purges back to input sources.
//
// The tick goroutine is the only writer.
// Any number of readers (UI code, loggers, tests)
// can follow the stream at their own pace without coordinating with the writer.
package gpubsub
