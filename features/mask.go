// Package features - GA feature mask over the flattened scan.
//
// The mask is the set of pixel positions that the genetic-algorithm search
// selected offline. The chromosome artifact stores one value per pixel of the
// canonical resolution and a nonzero value means "keep this pixel". The mask
// is immutable once built and is shared read-only by every inference call.
package features

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
)

// ErrEmptyMask is returned when a chromosome selects no pixel at all.
var ErrEmptyMask = errors.New("feature mask selects zero features")

// Mask is an ordered, immutable selection of flat pixel indices.
type Mask struct {
	indices []int
	space   int
}

// NewMask builds a mask from explicit indices.
//
// Arguments:
//   - indices: The selected flat indices, ascending and unique.
//   - space: The size of the flattened index space (width * height).
//
// Returns:
//   - *Mask: The mask, holding its own copy of the indices.
//   - error: An error if the indices are empty, unsorted, duplicated or out of range.
func NewMask(indices []int, space int) (*Mask, error) {
	if space <= 0 {
		return nil, errors.Errorf("invalid index space %d", space)
	}
	if len(indices) == 0 {
		return nil, ErrEmptyMask
	}

	prev := -1
	for i, idx := range indices {
		if idx < 0 || idx >= space {
			return nil, errors.Errorf("index %d at position %d is outside [0, %d)", idx, i, space)
		}
		if idx <= prev {
			return nil, errors.Errorf("index %d at position %d is not strictly ascending", idx, i)
		}
		prev = idx
	}

	owned := make([]int, len(indices))
	copy(owned, indices)

	return &Mask{indices: owned, space: space}, nil
}

// FromChromosome returns the ascending positions of the nonzero genes.
//
// Arguments:
//   - chromosome: The flattened GA chromosome.
//
// Returns:
//   - []int: The indices whose gene is nonzero, in ascending order.
//
// @example
// FromChromosome([]float64{0, 1, 0, 1, 1}) // [1 3 4]
func FromChromosome(chromosome []float64) []int {
	var indices []int
	for i, gene := range chromosome {
		// NaN compares unequal to zero, and numpy counts it as nonzero too.
		if gene != 0 {
			indices = append(indices, i)
		}
	}
	return indices
}

// LoadMask reads a NumPy chromosome artifact and derives the mask from it.
//
// The chromosome may have any rank as long as it is stored in C order and its
// flattened size equals space.
//
// Arguments:
//   - path: Path to the .npy chromosome file.
//   - space: The size of the flattened index space (width * height).
//
// Returns:
//   - *Mask: The derived mask.
//   - error: An error if the file cannot be read, has the wrong size or selects nothing.
func LoadMask(path string, space int) (*Mask, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open chromosome")
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read npy header of %s", path)
	}

	descr := r.Header.Descr
	if descr.Fortran && len(descr.Shape) > 1 {
		return nil, errors.Errorf("chromosome %s is stored in Fortran order, want C order", path)
	}

	size := 1
	for _, dim := range descr.Shape {
		size *= dim
	}
	if size != space {
		return nil, errors.Errorf("chromosome %s has shape %v (%d genes), want %d genes", path, descr.Shape, size, space)
	}

	chromosome, err := readGenes(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read genes of %s", path)
	}

	return NewMask(FromChromosome(chromosome), space)
}

// readGenes decodes the array body into float64 genes whatever the stored dtype.
func readGenes(r *npyio.Reader) ([]float64, error) {
	switch dtype := r.Header.Descr.Type; dtype {
	case "<f8":
		var genes []float64
		err := r.Read(&genes)
		return genes, err
	case "<f4":
		return readNumeric[float32](r)
	case "<i8":
		return readNumeric[int64](r)
	case "<i4":
		return readNumeric[int32](r)
	case "<i2":
		return readNumeric[int16](r)
	case "|i1":
		return readNumeric[int8](r)
	case "<u8":
		return readNumeric[uint64](r)
	case "<u4":
		return readNumeric[uint32](r)
	case "<u2":
		return readNumeric[uint16](r)
	case "|u1":
		return readNumeric[uint8](r)
	case "|b1":
		var raw []bool
		if err := r.Read(&raw); err != nil {
			return nil, err
		}
		genes := make([]float64, len(raw))
		for i, v := range raw {
			if v {
				genes[i] = 1
			}
		}
		return genes, nil
	default:
		return nil, errors.Errorf("unsupported chromosome dtype %q", dtype)
	}
}

type number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32
}

func readNumeric[T number](r *npyio.Reader) ([]float64, error) {
	var raw []T
	if err := r.Read(&raw); err != nil {
		return nil, err
	}
	genes := make([]float64, len(raw))
	for i, v := range raw {
		genes[i] = float64(v)
	}
	return genes, nil
}

// Len returns the number of selected features.
func (m *Mask) Len() int { return len(m.indices) }

// Space returns the size of the flattened index space the mask addresses.
func (m *Mask) Space() int { return m.space }

// Indices returns a copy of the selected indices in ascending order.
func (m *Mask) Indices() []int {
	out := make([]int, len(m.indices))
	copy(out, m.indices)
	return out
}

// Select gathers the masked values of a flattened image, in mask order.
//
// Arguments:
//   - flat: The row-major flattened image, of length Space().
//
// Returns:
//   - []float32: A new slice of length Len().
//   - error: An error if flat does not span the mask's index space.
func (m *Mask) Select(flat []float32) ([]float32, error) {
	if len(flat) != m.space {
		return nil, errors.Errorf("flattened image has %d values, mask expects %d", len(flat), m.space)
	}

	out := make([]float32, len(m.indices))
	for i, idx := range m.indices {
		out[i] = flat[idx]
	}
	return out, nil
}
