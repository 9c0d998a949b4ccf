// Package model defines the interface to the external seq2seq owner. The
// pretrained weights, tokenizer, and optimizer live in a model server; this
// package only speaks to it.
package model

import (
	"context"

	"github.com/pkot5/kluetune/internal/task"
)

// GenParams are the generation knobs for one evaluation round.
type GenParams struct {
	NumBeams      int
	MaxLength     int
	EarlyStopping bool
	// WithScores asks the server for per-sequence confidence scores.
	WithScores bool
}

// Generation is one decoded output. Score is only meaningful when the request
// asked for scores.
type Generation struct {
	Output string
	Score  float64
}

// Session is one loaded model instance. A fold controller opens a fresh
// session per fold so every fold starts from the pretrained weights.
type Session interface {
	// TrainEpoch runs one optimization pass over examples. Gradient
	// synchronization across workers is the server's concern.
	TrainEpoch(ctx context.Context, examples []task.Entry) error
	// Generate decodes one output per input, in input order, with gradient
	// tracking disabled server-side.
	Generate(ctx context.Context, inputs []string, p GenParams) ([]Generation, error)
	// Save writes the model checkpoint to dir.
	Save(ctx context.Context, dir string) error
	Close() error
}

// Backend opens sessions from a pretrained model path.
type Backend interface {
	Open(ctx context.Context, modelPath string, maxLength int) (Session, error)
}
