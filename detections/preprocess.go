package detections

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/Tutortoise/detection-pipeline/surface"
	"github.com/Tutortoise/detection-pipeline/tensor"
)

// Preprocessor turns a decoded image into a [1,3,H,W] planar float tensor
// in [0,1].
type Preprocessor struct {
	width, height int
	numWorkers    int
}

func NewPreprocessor(width, height int) *Preprocessor {
	return &Preprocessor{
		width:      width,
		height:     height,
		numWorkers: runtime.GOMAXPROCS(0),
	}
}

func (p *Preprocessor) Size() (int, int) {
	return p.width, p.height
}

// Prepare resizes img and converts it to planar RGB. img is never modified;
// the tensor is a new buffer owned by the caller.
func (p *Preprocessor) Prepare(img image.Image) (*tensor.Buffer, error) {
	if err := surface.CheckFrame(img); err != nil {
		return nil, err
	}
	if p.width <= 0 || p.height <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", p.width, p.height)
	}
	return p.Planarize(surface.Resize(img, p.width, p.height))
}

// Planarize converts an already resized image. Its bounds must equal the
// preprocessor's target size.
func (p *Preprocessor) Planarize(resized *image.NRGBA) (*tensor.Buffer, error) {
	b := resized.Bounds()
	if b.Dx() != p.width || b.Dy() != p.height {
		return nil, fmt.Errorf("resized image is %dx%d, want %dx%d", b.Dx(), b.Dy(), p.width, p.height)
	}

	buf, err := tensor.New(tensor.NewShape(1, 3, int64(p.height), int64(p.width)))
	if err != nil {
		return nil, err
	}
	p.processParallel(resized, buf.Data())
	return buf, nil
}

// processParallel splits rows across workers. Each worker writes a disjoint
// set of rows in all three planes.
func (p *Preprocessor) processParallel(img *image.NRGBA, buffer []float32) {
	channelSize := p.width * p.height
	numWorkers := p.numWorkers
	if numWorkers > p.height {
		numWorkers = p.height
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	rowsPerWorker := p.height / numWorkers
	origin := img.Bounds().Min

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == numWorkers-1 {
			endRow = p.height
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				row := img.PixOffset(origin.X, origin.Y+y)
				src := img.Pix[row : row+p.width*4]
				offset := y * p.width
				for x := 0; x < p.width; x++ {
					i := offset + x
					buffer[i] = float32(src[x*4]) / 255.0
					buffer[channelSize+i] = float32(src[x*4+1]) / 255.0
					buffer[channelSize*2+i] = float32(src[x*4+2]) / 255.0
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}

// Interleave converts a [1,3,H,W] planar buffer back to H*W*3 pixel-major
// values. Used to check a prepared tensor against the image it came from.
func Interleave(buf *tensor.Buffer) ([]float32, error) {
	shape := buf.Shape()
	if len(shape) != 4 || shape[0] != 1 || shape[1] != 3 {
		return nil, fmt.Errorf("expected [1, 3, H, W], got %v", shape)
	}
	channelSize := int(shape[2] * shape[3])
	data := buf.Data()
	out := make([]float32, len(data))
	for i := 0; i < channelSize; i++ {
		out[i*3] = data[i]
		out[i*3+1] = data[channelSize+i]
		out[i*3+2] = data[channelSize*2+i]
	}
	return out, nil
}
