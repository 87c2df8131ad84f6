package codec

// InputSlot is an input buffer the pipeline may fill. It belongs to the
// pipeline from DequeueInputSlot until SubmitInput or Close.
type InputSlot struct {
	s     *Session
	index int
	buf   []byte
	owned bool
}

func (in *InputSlot) Index() int { return in.index }

// Close hands the slot back to the codec unfilled. It does nothing once the
// slot has been submitted.
func (in *InputSlot) Close() error {
	if in == nil || in.s == nil {
		return nil
	}
	return in.s.returnInput(in)
}

// OutputSlot holds one decoded frame. It belongs to the pipeline from the
// Ready that carried it until it is released.
type OutputSlot struct {
	s     *Session
	index int
	buf   []byte
	owned bool
}

func (o *OutputSlot) Index() int { return o.index }

// Close releases the slot without rendering if it is still owned.
func (o *OutputSlot) Close() error {
	if o == nil || o.s == nil {
		return nil
	}
	o.s.mu.Lock()
	owned := o.owned
	o.s.mu.Unlock()
	if !owned {
		return nil
	}
	return o.s.ReleaseOutputSlot(o, false)
}
