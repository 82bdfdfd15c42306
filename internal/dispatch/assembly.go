package dispatch

import (
	"github.com/ashgrove/reactor/api"
	"github.com/ashgrove/reactor/internal/writer"
)

// ResponseAssembly applies a handler's ordered chain of response refiners to
// a raw output buffer and hands the final bytes to the size-header writer.
type ResponseAssembly[T any] struct {
	headerSize int
	refiners   []api.ResponseRefiner[T]
}

// NewResponseAssembly constructs a ResponseAssembly running refiners in the
// given order ahead of framing.
func NewResponseAssembly[T any](headerSize int, refiners ...api.ResponseRefiner[T]) *ResponseAssembly[T] {
	return &ResponseAssembly[T]{headerSize: headerSize, refiners: refiners}
}

// Refine runs every registered refiner over payload in registration order,
// feeding each refiner's output to the next.
func (a *ResponseAssembly[T]) Refine(original T, payload []byte) ([]byte, error) {
	out := payload
	for _, r := range a.refiners {
		refined, err := r.Execute(original, out)
		if err != nil {
			return nil, api.NewFrameError(api.KindHandlerFailure, err)
		}
		out = refined
	}
	return out, nil
}

// Assemble refines payload and wraps it in a framed WriteJob ready to hand
// to a writer.Queue.
func (a *ResponseAssembly[T]) Assemble(original T, payload []byte) (*writer.WriteJob, error) {
	refined, err := a.Refine(original, payload)
	if err != nil {
		return nil, err
	}
	return writer.NewSizeHeaderJob(a.headerSize, refined), nil
}
