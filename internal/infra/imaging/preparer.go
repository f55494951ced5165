package imaging

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"xray-inference/internal/domain"
	"xray-inference/internal/domain/ports/adapter"

	"golang.org/x/image/draw"
)

var _ adapter.ImagePreparer = (*Preparer)(nil)

// Preparer reproduces the training-time preprocessing of the classifier:
// drop the top sixth of the radiograph, resize to a square, BGR order,
// scale to [0,1], NHWC with a batch of one.
type Preparer struct {
	size int
}

func NewPreparer(size int) *Preparer {
	if size <= 0 {
		size = 224
	}
	return &Preparer{size: size}
}

func (p *Preparer) Prepare(r io.Reader) (adapter.Tensor, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return adapter.Tensor{}, fmt.Errorf("%w: %v", domain.ErrUnsupportedImage, err)
	}
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() < 6 {
		return adapter.Tensor{}, fmt.Errorf("%w: %dx%d is too small", domain.ErrUnsupportedImage, b.Dx(), b.Dy())
	}
	crop := image.Rect(b.Min.X, b.Min.Y+b.Dy()/6, b.Max.X, b.Max.Y)

	dst := image.NewRGBA(image.Rect(0, 0, p.size, p.size))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)

	data := make([]float32, 0, p.size*p.size*3)
	for i := 0; i < len(dst.Pix); i += 4 {
		r, g, b := dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2]
		data = append(data, float32(b)/255, float32(g)/255, float32(r)/255)
	}
	return adapter.Tensor{Shape: []int{1, p.size, p.size, 3}, Data: data}, nil
}
