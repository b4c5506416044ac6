package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

// Supported transport encodings.
const (
	EncodingBGR8  = "bgr8"
	EncodingRGB8  = "rgb8"
	EncodingBGRA8 = "bgra8"
	EncodingRGBA8 = "rgba8"
	EncodingMono8 = "mono8"
)

var channelsByEncoding = map[string]int{
	EncodingBGR8:  3,
	EncodingRGB8:  3,
	EncodingBGRA8: 4,
	EncodingRGBA8: 4,
	EncodingMono8: 1,
}

// ErrBadFrame is returned for frames whose header does not match their data.
var ErrBadFrame = errors.New("malformed frame")

// Encodings lists the supported encodings.
func Encodings() []string {
	return []string{EncodingBGR8, EncodingRGB8, EncodingBGRA8, EncodingRGBA8, EncodingMono8}
}

// ValidEncoding reports whether enc is supported.
func ValidEncoding(enc string) bool {
	_, ok := channelsByEncoding[enc]
	return ok
}

// Channels returns the bytes per pixel of enc, or 0 when it is unsupported.
func Channels(enc string) int {
	return channelsByEncoding[enc]
}

// Frame is a raw raster frame as it travels between the host and the tracker.
// Rows are Step bytes apart; Step may exceed Width times the pixel size.
type Frame struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Encoding  string    `json:"encoding"`
	Step      int       `json:"step"`
	Data      []byte    `json:"-"`
}

// Validate checks that the header describes the data.
func (f Frame) Validate() error {
	ch, ok := channelsByEncoding[f.Encoding]
	if !ok {
		return fmt.Errorf("%w: unsupported encoding %q", ErrBadFrame, f.Encoding)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrBadFrame, f.Width, f.Height)
	}
	if f.Step < f.Width*ch {
		return fmt.Errorf("%w: step %d shorter than row of %d bytes", ErrBadFrame, f.Step, f.Width*ch)
	}
	if len(f.Data) < f.Step*(f.Height-1)+f.Width*ch {
		return fmt.Errorf("%w: %d bytes for %dx%d step %d", ErrBadFrame, len(f.Data), f.Width, f.Height, f.Step)
	}
	return nil
}

// Codec converts between transport frames and the BGR Mats the tracker works on.
// Outbound frames always use the codec's encoding.
type Codec struct {
	encoding string
}

// NewCodec creates a codec for enc.
func NewCodec(enc string) (*Codec, error) {
	if !ValidEncoding(enc) {
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}
	return &Codec{encoding: enc}, nil
}

// Encoding returns the outbound encoding.
func (c *Codec) Encoding() string {
	return c.encoding
}

// Decode converts f, in any supported encoding, to a BGR Mat the caller must close.
func (c *Codec) Decode(f Frame) (gocv.Mat, error) {
	if err := f.Validate(); err != nil {
		return gocv.NewMat(), err
	}
	ch := channelsByEncoding[f.Encoding]

	rowBytes := f.Width * ch
	packed := f.Data[:rowBytes*f.Height]
	if f.Step != rowBytes {
		packed = make([]byte, 0, rowBytes*f.Height)
		for y := 0; y < f.Height; y++ {
			off := y * f.Step
			packed = append(packed, f.Data[off:off+rowBytes]...)
		}
	}

	src, err := gocv.NewMatFromBytes(f.Height, f.Width, matType(ch), packed)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("wrap frame: %w", err)
	}
	defer src.Close()

	out := gocv.NewMat()
	switch f.Encoding {
	case EncodingBGR8:
		src.CopyTo(&out)
	case EncodingRGB8:
		gocv.CvtColor(src, &out, gocv.ColorRGBToBGR)
	case EncodingBGRA8:
		gocv.CvtColor(src, &out, gocv.ColorBGRAToBGR)
	case EncodingRGBA8:
		gocv.CvtColor(src, &out, gocv.ColorRGBAToBGR)
	case EncodingMono8:
		gocv.CvtColor(src, &out, gocv.ColorGrayToBGR)
	}
	return out, nil
}

// Encode converts a BGR (or single-channel) Mat to a frame in the codec's
// encoding, copying id and timestamp from hdr.
func (c *Codec) Encode(m gocv.Mat, hdr Frame) (Frame, error) {
	if m.Empty() {
		return Frame{}, fmt.Errorf("%w: empty image", ErrBadFrame)
	}

	bgr := m
	if m.Channels() == 1 {
		bgr = gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(m, &bgr, gocv.ColorGrayToBGR)
	} else if m.Channels() != 3 {
		return Frame{}, fmt.Errorf("%w: %d channels", ErrBadFrame, m.Channels())
	}

	out := gocv.NewMat()
	defer out.Close()
	switch c.encoding {
	case EncodingBGR8:
		bgr.CopyTo(&out)
	case EncodingRGB8:
		gocv.CvtColor(bgr, &out, gocv.ColorBGRToRGB)
	case EncodingBGRA8:
		gocv.CvtColor(bgr, &out, gocv.ColorBGRToBGRA)
	case EncodingRGBA8:
		gocv.CvtColor(bgr, &out, gocv.ColorBGRToRGBA)
	case EncodingMono8:
		gocv.CvtColor(bgr, &out, gocv.ColorBGRToGray)
	}

	ch := channelsByEncoding[c.encoding]
	return Frame{
		ID:        hdr.ID,
		Timestamp: hdr.Timestamp,
		Width:     out.Cols(),
		Height:    out.Rows(),
		Encoding:  c.encoding,
		Step:      out.Cols() * ch,
		Data:      out.ToBytes(),
	}, nil
}

// FromMat stamps a new frame ID and time and encodes m.
func (c *Codec) FromMat(m gocv.Mat) (Frame, error) {
	return c.Encode(m, Frame{ID: uuid.NewString(), Timestamp: time.Now()})
}

func matType(channels int) gocv.MatType {
	switch channels {
	case 1:
		return gocv.MatTypeCV8U
	case 4:
		return gocv.MatTypeCV8UC4
	default:
		return gocv.MatTypeCV8UC3
	}
}
