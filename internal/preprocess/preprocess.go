package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrDecode is returned when the uploaded bytes are not a decodable image.
var ErrDecode = errors.New("decode image")

const (
	ChannelsRGB = "RGB"
	ChannelsBGR = "BGR"
)

// CaffeMean holds the ImageNet channel means used by the Keras ResNet50
// weights, in BGR order.
var CaffeMean = [3]float32{103.939, 116.779, 123.68}

// Options describes the normalization the model was trained with.
type Options struct {
	Size         int
	ChannelOrder string
	// Mean is indexed in ChannelOrder order.
	Mean   [3]float32
	Filter resize.InterpolationFunction
}

// DefaultOptions matches Keras "caffe" preprocessing for ResNet50.
func DefaultOptions() Options {
	return Options{
		Size:         224,
		ChannelOrder: ChannelsBGR,
		Mean:         CaffeMean,
		Filter:       resize.Bicubic,
	}
}

// Tensor is a dense float32 tensor in NHWC layout.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// At returns the value at batch 0, row y, column x, channel c.
func (t *Tensor) At(y, x, c int) float32 {
	w, ch := int(t.Shape[2]), int(t.Shape[3])
	return t.Data[(y*w+x)*ch+c]
}

var filters = map[string]resize.InterpolationFunction{
	"nearest":  resize.NearestNeighbor,
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"mitchell": resize.MitchellNetravali,
	"lanczos2": resize.Lanczos2,
	"lanczos3": resize.Lanczos3,
}

// ParseFilter maps a resample filter name to its nfnt/resize function.
// An empty name selects bicubic.
func ParseFilter(name string) (resize.InterpolationFunction, error) {
	if name == "" {
		return resize.Bicubic, nil
	}
	f, ok := filters[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown resample filter %q", name)
	}
	return f, nil
}

// MaxPixels bounds width*height of an upload before its pixels are
// allocated. It matches Pillow's decompression bomb limit.
const MaxPixels = 178956970

// Decode reads an image in any registered format. The header is checked
// against MaxPixels first, so a small file cannot claim a huge raster.
func Decode(r io.Reader) (image.Image, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > MaxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, MaxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, "", fmt.Errorf("%w: empty image", ErrDecode)
	}
	return img, format, nil
}

// ToRGB converts any color model to opaque 8-bit RGB. Alpha is discarded,
// not composited onto a background.
func ToRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

// Resize stretches img to exactly size x size.
func Resize(img image.Image, size int, filter resize.InterpolationFunction) image.Image {
	return resize.Resize(uint(size), uint(size), img, filter)
}

// ToTensor converts a size x size RGB image into a (1, size, size, 3) tensor
// with channels reordered and means subtracted.
func ToTensor(img image.Image, opts Options) (*Tensor, error) {
	var order [3]int
	switch opts.ChannelOrder {
	case ChannelsRGB, "":
		order = [3]int{0, 1, 2}
	case ChannelsBGR:
		order = [3]int{2, 1, 0}
	default:
		return nil, fmt.Errorf("unknown channel order %q", opts.ChannelOrder)
	}

	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	data := make([]float32, width*height*3)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			rgb := [3]float32{float32(c.R), float32(c.G), float32(c.B)}

			off := (y*width + x) * 3
			for ch := 0; ch < 3; ch++ {
				data[off+ch] = rgb[order[ch]] - opts.Mean[ch]
			}
		}
	}

	return &Tensor{
		Shape: []int64{1, int64(height), int64(width), 3},
		Data:  data,
	}, nil
}

// Prepare runs the whole pipeline: decode, RGB conversion, resize, tensor.
func Prepare(r io.Reader, opts Options) (*Tensor, error) {
	img, _, err := Decode(r)
	if err != nil {
		return nil, err
	}
	return Image(img, opts)
}

// Image preprocesses an already decoded image.
func Image(img image.Image, opts Options) (*Tensor, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("invalid target size %d", opts.Size)
	}
	resized := Resize(ToRGB(img), opts.Size, opts.Filter)
	return ToTensor(resized, opts)
}
