package compose

import "fmt"

// Layers is a fixed-size, index-ordered set of design slots. Index order is
// paint order: a higher index is painted later and appears on top.
//
// Slot labels shown to users (front/back design) stay bound to the index, so
// swapping two slots changes which design carries which label.
type Layers []*Layer

func NewLayers(slots int) Layers {
	return make(Layers, slots)
}

func (l Layers) Populated() int {
	n := 0
	for _, layer := range l {
		if layer != nil {
			n++
		}
	}
	return n
}

func (l Layers) Set(index int, layer *Layer) error {
	if index < 0 || index >= len(l) {
		return fmt.Errorf("slot %d out of range [0,%d)", index, len(l))
	}
	l[index] = layer
	return nil
}

func (l Layers) Swap(i, j int) error {
	if i < 0 || i >= len(l) || j < 0 || j >= len(l) {
		return fmt.Errorf("swap %d<->%d out of range [0,%d)", i, j, len(l))
	}
	l[i], l[j] = l[j], l[i]
	return nil
}

// BringForward moves the slot at index one step up the paint order. It is a
// no-op for the topmost slot.
func (l Layers) BringForward(index int) error {
	if index == len(l)-1 {
		return nil
	}
	return l.Swap(index, index+1)
}

// SendBackward moves the slot at index one step down the paint order. It is a
// no-op for slot 0.
func (l Layers) SendBackward(index int) error {
	if index == 0 {
		return nil
	}
	return l.Swap(index, index-1)
}
