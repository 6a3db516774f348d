package pipeline

// Shuffle is the byte shuffle filter. Encoding regroups element bytes by
// position (all byte 0s, then all byte 1s, and so on), which tends to help
// a following compression filter.
type Shuffle struct {
	elemSize int
}

// NewShuffle creates a shuffle filter. Client data: [0] = element size in
// bytes.
func NewShuffle(clientData []uint32) *Shuffle {
	elemSize := 1
	if len(clientData) > 0 && clientData[0] > 0 {
		elemSize = int(clientData[0])
	}
	return &Shuffle{elemSize: elemSize}
}

func (f *Shuffle) ID() uint16   { return FilterShuffle }
func (f *Shuffle) Name() string { return "shuffle" }

// SetElementSize sets the element size when it is only known after filter
// creation.
func (f *Shuffle) SetElementSize(size int) {
	f.elemSize = size
}

func (f *Shuffle) Encode(input []byte) ([]byte, error) {
	if f.elemSize <= 1 {
		return input, nil
	}
	numElems := len(input) / f.elemSize
	if numElems == 0 {
		return input, nil
	}
	output := make([]byte, len(input))
	for i := 0; i < numElems; i++ {
		for j := 0; j < f.elemSize; j++ {
			output[j*numElems+i] = input[i*f.elemSize+j]
		}
	}
	// Bytes past the last whole element pass through unchanged.
	copy(output[numElems*f.elemSize:], input[numElems*f.elemSize:])
	return output, nil
}

func (f *Shuffle) Decode(input []byte) ([]byte, error) {
	if f.elemSize <= 1 {
		return input, nil
	}
	numElems := len(input) / f.elemSize
	if numElems == 0 {
		return input, nil
	}
	output := make([]byte, len(input))
	for i := 0; i < numElems; i++ {
		for j := 0; j < f.elemSize; j++ {
			output[i*f.elemSize+j] = input[j*numElems+i]
		}
	}
	copy(output[numElems*f.elemSize:], input[numElems*f.elemSize:])
	return output, nil
}
