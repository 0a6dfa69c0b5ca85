// Package convert implements the two-stage pixel format conversion the
// capture core runs on every frame: device-native bytes are first
// expanded into a packed 4-byte-per-pixel BGRA intermediate, then
// packed down to the RGB triples delivered to callers. Both stages
// write only into caller-supplied destinations.
package convert

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"multicam/internal/fourcc"
)

// Error wraps a conversion failure with the stage it happened in.
type Error struct {
	Stage  string // "intermediate" or "output"
	Format fourcc.Code
	Err    error
}

func (e *Error) Error() string {
	if e.Format != 0 {
		return fmt.Sprintf("%s conversion of %s frame: %v", e.Stage, e.Format, e.Err)
	}
	return fmt.Sprintf("%s conversion: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Converter implements the capture core's two-stage conversion
// contract for the formats this package understands.
type Converter struct{}

// ToIntermediate expands one raw frame into dst, which must hold
// exactly width*height*4 bytes of BGRA.
func (Converter) ToIntermediate(raw []byte, width, height int, format fourcc.Code, dst []byte) error {
	if len(dst) != width*height*4 {
		return &Error{Stage: "intermediate", Format: format,
			Err: fmt.Errorf("destination is %d bytes, want %d", len(dst), width*height*4)}
	}

	var err error
	switch format {
	case fourcc.YUYV:
		err = yuyvToBGRA(raw, width, height, dst, 0, 2)
	case fourcc.UYVY:
		err = yuyvToBGRA(raw, width, height, dst, 1, 3)
	case fourcc.NV12:
		err = nv12ToBGRA(raw, width, height, dst)
	case fourcc.RGB3:
		err = rgbToBGRA(raw, width, height, dst, 0, 1, 2)
	case fourcc.BGR3:
		err = rgbToBGRA(raw, width, height, dst, 2, 1, 0)
	case fourcc.MJPG:
		err = jpegToBGRA(raw, width, height, dst)
	default:
		err = fmt.Errorf("unsupported pixel format")
	}
	if err != nil {
		return &Error{Stage: "intermediate", Format: format, Err: err}
	}
	return nil
}

// ToOutput packs a BGRA intermediate into RGB triples. dst must hold
// exactly width*height*3 bytes.
func (Converter) ToOutput(bgra []byte, width, height int, dst []byte) error {
	if len(bgra) != width*height*4 {
		return &Error{Stage: "output",
			Err: fmt.Errorf("intermediate is %d bytes, want %d", len(bgra), width*height*4)}
	}
	if len(dst) != width*height*3 {
		return &Error{Stage: "output",
			Err: fmt.Errorf("destination is %d bytes, want %d", len(dst), width*height*3)}
	}
	for i, j := 0, 0; i < len(bgra); i, j = i+4, j+3 {
		dst[j+0] = bgra[i+2]
		dst[j+1] = bgra[i+1]
		dst[j+2] = bgra[i+0]
	}
	return nil
}

// yuyvToBGRA handles the two interleaved 4:2:2 layouts. yOff selects
// the position of the first luma sample within each 4-byte group:
// 0 for YUYV (Y0 U Y1 V), 1 for UYVY (U Y0 V Y1).
func yuyvToBGRA(raw []byte, width, height int, dst []byte, yOff, y2Off int) error {
	need := width * height * 2
	if len(raw) < need {
		return fmt.Errorf("frame is %d bytes, want at least %d", len(raw), need)
	}
	uOff, vOff := (yOff+1)%2, (yOff+1)%2+2

	for i, j := 0, 0; i < need; i, j = i+4, j+8 {
		y0, u := raw[i+yOff], raw[i+uOff]
		y1, v := raw[i+y2Off], raw[i+vOff]
		writeYUV(dst[j:j+4], y0, u, v)
		writeYUV(dst[j+4:j+8], y1, u, v)
	}
	return nil
}

func nv12ToBGRA(raw []byte, width, height int, dst []byte) error {
	need := width*height + width*height/2
	if len(raw) < need {
		return fmt.Errorf("frame is %d bytes, want at least %d", len(raw), need)
	}
	uvPlane := raw[width*height:]

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			uv := (y/2)*width + (x/2)*2
			writeYUV(dst[(y*width+x)*4:(y*width+x)*4+4], raw[y*width+x], uvPlane[uv], uvPlane[uv+1])
		}
	}
	return nil
}

func writeYUV(px []byte, y, u, v byte) {
	r, g, b := color.YCbCrToRGB(y, u, v)
	px[0], px[1], px[2], px[3] = b, g, r, 0xff
}

func rgbToBGRA(raw []byte, width, height int, dst []byte, rOff, gOff, bOff int) error {
	need := width * height * 3
	if len(raw) < need {
		return fmt.Errorf("frame is %d bytes, want at least %d", len(raw), need)
	}
	for i, j := 0, 0; i < need; i, j = i+3, j+4 {
		dst[j+0] = raw[i+bOff]
		dst[j+1] = raw[i+gOff]
		dst[j+2] = raw[i+rOff]
		dst[j+3] = 0xff
	}
	return nil
}

func jpegToBGRA(raw []byte, width, height int, dst []byte) error {
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != width || bounds.Dy() != height {
		return fmt.Errorf("frame is %dx%d, want %dx%d", bounds.Dx(), bounds.Dy(), width, height)
	}

	// Fast path: baseline MJPEG decodes to YCbCr.
	if ycbcr, ok := img.(*image.YCbCr); ok {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				yi := ycbcr.YOffset(bounds.Min.X+x, bounds.Min.Y+y)
				ci := ycbcr.COffset(bounds.Min.X+x, bounds.Min.Y+y)
				writeYUV(dst[(y*width+x)*4:(y*width+x)*4+4], ycbcr.Y[yi], ycbcr.Cb[ci], ycbcr.Cr[ci])
			}
		}
		return nil
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := (y*width + x) * 4
			dst[i+0] = byte(b >> 8)
			dst[i+1] = byte(g >> 8)
			dst[i+2] = byte(r >> 8)
			dst[i+3] = 0xff
		}
	}
	return nil
}
