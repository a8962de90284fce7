package wfc

import (
	"errors"
	"fmt"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/tile"
)

var ErrCancelled = errors.New("wfc: generation cancelled")

// ContradictionError reports the first pending slot whose superposition emptied.
type ContradictionError struct {
	At tile.Coord
}

func (e *ContradictionError) Error() string {
	return fmt.Sprintf("wfc: contradiction at %s", e.At)
}

// ExhaustedError reports that the observation budget ran out before every slot
// was decided.
type ExhaustedError struct {
	After int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("wfc: observation budget exhausted after %d", e.After)
}

type StoreError struct {
	At  tile.Coord
	Op  string // "load" or "save"
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("wfc: store %s at %s: %v", e.Op, e.At, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Retryable reports whether another seed may succeed where this run failed.
func Retryable(err error) bool {
	var c *ContradictionError
	var x *ExhaustedError
	return errors.As(err, &c) || errors.As(err, &x)
}

// Outcome names err for run logs and the index.
func Outcome(err error) string {
	var (
		c *ContradictionError
		x *ExhaustedError
		s *StoreError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &c):
		return "contradiction"
	case errors.As(err, &x):
		return "exhausted"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.As(err, &s):
		return "store_error"
	default:
		return "error"
	}
}
