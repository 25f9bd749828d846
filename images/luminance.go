package images

import (
	"image"
	"image/color"
	"runtime"
	"sync"
)

// Luminance converts an image to 8-bit single-channel luma.
//
// Each pixel uses the ITU-R 601-2 weights on straight (non-premultiplied)
// 8-bit channels in fixed point, L = (19595 R + 38470 G + 7471 B + 0x8000) >> 16.
// Alpha is discarded. Grayscale inputs are copied unchanged. 16-bit inputs
// keep the high byte of each channel, so a 16-bit gray of 0x1234 becomes 0x12;
// this differs from Pillow, whose "I;16" to "L" conversion clips to 255.
//
// Arguments:
//   - img: The source image.
//
// Returns:
//   - *image.Gray: A new image with origin (0, 0) and the source dimensions.
func Luminance(img image.Image) *image.Gray {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	dst := image.NewGray(image.Rect(0, 0, width, height))

	if src, ok := img.(*image.Gray); ok {
		for y := 0; y < height; y++ {
			srcOff := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+width], src.Pix[srcOff:srcOff+width])
		}
		return dst
	}

	Parallel(height, func(start, end int) {
		for y := start; y < end; y++ {
			row := dst.Pix[y*dst.Stride : y*dst.Stride+width]
			for x := 0; x < width; x++ {
				c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
				row[x] = luma(c.R, c.G, c.B)
			}
		}
	})

	return dst
}

func luma(r, g, b uint8) uint8 {
	return uint8((uint32(r)*19595 + uint32(g)*38470 + uint32(b)*7471 + 0x8000) >> 16)
}

// Parallel splits [0, dataSize) into one contiguous partition per CPU and
// runs fn on each concurrently. Small inputs run on the calling goroutine.
//
// Arguments:
//   - dataSize: The size of the data to process.
//   - fn: Function to execute for each partition (receives start and end indices).
//
// @example
//
//	Parallel(height, func(start, end int) {
//	    for y := start; y < end; y++ {
//	        // Process row y
//	    }
//	})
func Parallel(dataSize int, fn func(partStart, partEnd int)) {
	numGoroutines := runtime.NumCPU()

	if dataSize < numGoroutines*2 {
		fn(0, dataSize)
		return
	}

	partSize := dataSize / numGoroutines

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		partStart := i * partSize
		partEnd := partStart + partSize

		// Last partition gets any remaining data.
		if i == numGoroutines-1 {
			partEnd = dataSize
		}

		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(partStart, partEnd)
	}

	wg.Wait()
}
