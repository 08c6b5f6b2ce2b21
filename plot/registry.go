// Package plot exports differential traces as data files and optionally renders them.
// Export runs on its own workers so that a slow renderer never stalls the attack.
package plot

//Allow calling code to construct a Renderer just by specifying its name

import (
	"context"
	"fmt"
)

const (
	RendererText    = "text"
	RendererGnuplot = "gnuplot"
)

//Renderer turns an already written data file into an image or similar artifact
type Renderer interface {
	Render(ctx context.Context, dataFile string) error
}

//NewRenderer resolves name to a Renderer. Returns an error
//if no Renderer is known for the given name
func NewRenderer(name string) (Renderer, error) {
	switch name {
	case "", RendererText:
		return textRenderer{}, nil
	case RendererGnuplot:
		return NewGnuplotRenderer("gnuplot"), nil
	default:
		return nil, fmt.Errorf("unsupported renderer %v", name)
	}
}

func knownRenderer(name string) bool {
	_, err := NewRenderer(name)
	return err == nil
}

//textRenderer keeps only the data file
type textRenderer struct{}

func (textRenderer) Render(context.Context, string) error {
	return nil
}
