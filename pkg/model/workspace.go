package model

import "gonum.org/v1/gonum/mat"

// Workspace tracks the temporary matrices of one stage so they can be released together with
// a single deferred Release call.
type Workspace struct {
	held []*mat.Dense
}

// NewDense allocates a r x c matrix owned by the workspace.
func (w *Workspace) NewDense(r, c int, data []float64) *mat.Dense {
	d := mat.NewDense(r, c, data)
	w.held = append(w.held, d)
	return d
}

// Own registers a matrix allocated elsewhere with the workspace.
func (w *Workspace) Own(d *mat.Dense) *mat.Dense {
	w.held = append(w.held, d)
	return d
}

func (w *Workspace) Len() int {
	return len(w.held)
}

// Release empties every matrix held by the workspace. Matrices must not be used afterwards.
func (w *Workspace) Release() {
	for i, d := range w.held {
		d.Reset()
		w.held[i] = nil
	}
	w.held = w.held[:0]
}
