// Package stt turns the local audio capture into live caption text.
package stt

import "context"

// Result is one recognition hypothesis. Interim results revise the
// in-progress utterance; a final result closes it.
type Result struct {
	Text  string
	Final bool
}

// Recognizer is a start/stop speech recognition engine. Start returns
// a channel of results that closes when recognition ends; Stop ends it
// early. Implementations must tolerate Stop without a prior Start.
type Recognizer interface {
	Start(ctx context.Context) (<-chan Result, error)
	Stop()
}

// AudioSource supplies raw audio chunks to a recognizer. ReadChunk
// blocks until a chunk is available and returns an error once the
// source is exhausted or the context is done.
type AudioSource interface {
	ReadChunk(ctx context.Context) ([]byte, error)
}
