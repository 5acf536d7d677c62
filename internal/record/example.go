package record

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/andresmejia3/simpsons/internal/types"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrSchema is returned when a payload is missing a feature or a feature has
// the wrong kind or length. There is no per-record recovery from it.
var ErrSchema = errors.New("record schema mismatch")

// Feature keys. The payload is a tf.train.Example, so files stay readable by
// TensorFlow tooling.
const (
	KeyImage     = "image"
	KeyOneHot    = "one_hot"
	KeyLabel     = "label"
	KeyImagePath = "image_path"
	KeyHeight    = "height"
	KeyWidth     = "width"
	KeyChannels  = "channels"
	KeyX1        = "x1"
	KeyY1        = "y1"
	KeyX2        = "x2"
	KeyY2        = "y2"
)

// Example is one serialized sample.
type Example struct {
	Image    []float32
	OneHot   []float32
	Label    string
	Path     string
	Height   int64
	Width    int64
	Channels int64
	X1       int64
	Y1       int64
	X2       int64
	Y2       int64
}

// Encode builds an Example from a transformed sample.
func Encode(s types.Sample) (*Example, error) {
	if s.Image == nil {
		return nil, fmt.Errorf("sample %d has no image", s.Index)
	}
	shape := s.Image.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("sample %d: expected [h, w, c] image, got %v", s.Index, shape)
	}
	data, ok := s.Image.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("sample %d: expected float32 image, got %T", s.Index, s.Image.Data())
	}

	a := s.Annotation
	return &Example{
		Image:    data,
		OneHot:   s.OneHot,
		Label:    a.Label,
		Path:     a.Path,
		Height:   int64(shape[0]),
		Width:    int64(shape[1]),
		Channels: int64(shape[2]),
		X1:       int64(a.X1),
		Y1:       int64(a.Y1),
		X2:       int64(a.X2),
		Y2:       int64(a.Y2),
	}, nil
}

// Class returns the index of the 1.0 entry of the one-hot vector, or -1.
func (e *Example) Class() int {
	for i, v := range e.OneHot {
		if v == 1.0 {
			return i
		}
	}
	return -1
}

// tf.train.Feature oneof field numbers
const (
	bytesListField protowire.Number = 1
	floatListField protowire.Number = 2
	int64ListField protowire.Number = 3
)

type feature struct {
	kind   protowire.Number
	floats []float32
	ints   []int64
	bytes  [][]byte
}

// Marshal encodes the Example in tf.train.Example wire format with keys in
// sorted order, so equal examples give equal bytes.
func (e *Example) Marshal() []byte {
	features := map[string][]byte{
		KeyImage:     floatFeature(e.Image),
		KeyOneHot:    floatFeature(e.OneHot),
		KeyLabel:     bytesFeature([]byte(e.Label)),
		KeyImagePath: bytesFeature([]byte(e.Path)),
		KeyHeight:    int64Feature(e.Height),
		KeyWidth:     int64Feature(e.Width),
		KeyChannels:  int64Feature(e.Channels),
		KeyX1:        int64Feature(e.X1),
		KeyY1:        int64Feature(e.Y1),
		KeyX2:        int64Feature(e.X2),
		KeyY2:        int64Feature(e.Y2),
	}
	keys := make([]string, 0, len(features))
	for k := range features {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Features { map<string, Feature> feature = 1; }
	var body []byte
	for _, k := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, 1, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, 2, protowire.BytesType)
		entry = protowire.AppendBytes(entry, features[k])

		body = protowire.AppendTag(body, 1, protowire.BytesType)
		body = protowire.AppendBytes(body, entry)
	}

	// Example { Features features = 1; }
	out := protowire.AppendTag(nil, 1, protowire.BytesType)
	return protowire.AppendBytes(out, body)
}

func floatFeature(values []float32) []byte {
	packed := make([]byte, 0, 4*len(values))
	for _, v := range values {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	list := protowire.AppendTag(nil, 1, protowire.BytesType)
	list = protowire.AppendBytes(list, packed)

	out := protowire.AppendTag(nil, floatListField, protowire.BytesType)
	return protowire.AppendBytes(out, list)
}

func int64Feature(values ...int64) []byte {
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	list := protowire.AppendTag(nil, 1, protowire.BytesType)
	list = protowire.AppendBytes(list, packed)

	out := protowire.AppendTag(nil, int64ListField, protowire.BytesType)
	return protowire.AppendBytes(out, list)
}

func bytesFeature(values ...[]byte) []byte {
	var list []byte
	for _, v := range values {
		list = protowire.AppendTag(list, 1, protowire.BytesType)
		list = protowire.AppendBytes(list, v)
	}
	out := protowire.AppendTag(nil, bytesListField, protowire.BytesType)
	return protowire.AppendBytes(out, list)
}

// Decoder parses payloads and checks them against fixed lengths.
type Decoder struct {
	// ImageLen is the required length of the flat image; 0 accepts any.
	ImageLen int
	// Classes is the required one-hot length; 0 accepts any.
	Classes int
}

// Decode parses one payload. Any missing field, wrong kind or wrong length is
// reported as ErrSchema.
func (d Decoder) Decode(payload []byte) (*Example, error) {
	features, err := parseExample(payload)
	if err != nil {
		return nil, err
	}

	e := &Example{}
	if e.Image, err = floats(features, KeyImage, d.ImageLen); err != nil {
		return nil, err
	}
	if e.OneHot, err = floats(features, KeyOneHot, d.Classes); err != nil {
		return nil, err
	}
	if e.Label, err = str(features, KeyLabel); err != nil {
		return nil, err
	}
	if e.Path, err = str(features, KeyImagePath); err != nil {
		return nil, err
	}
	ints := []struct {
		key string
		dst *int64
	}{
		{KeyHeight, &e.Height},
		{KeyWidth, &e.Width},
		{KeyChannels, &e.Channels},
		{KeyX1, &e.X1},
		{KeyY1, &e.Y1},
		{KeyX2, &e.X2},
		{KeyY2, &e.Y2},
	}
	for _, f := range ints {
		if *f.dst, err = scalar(features, f.key); err != nil {
			return nil, err
		}
	}

	if n := e.Height * e.Width * e.Channels; n != int64(len(e.Image)) {
		return nil, fmt.Errorf("%w: image has %d values, dimensions %dx%dx%d", ErrSchema, len(e.Image), e.Height, e.Width, e.Channels)
	}
	return e, nil
}

func floats(features map[string]*feature, key string, want int) ([]float32, error) {
	f, ok := features[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrSchema, key)
	}
	if f.kind != floatListField {
		return nil, fmt.Errorf("%w: %q is not a float list", ErrSchema, key)
	}
	if want > 0 && len(f.floats) != want {
		return nil, fmt.Errorf("%w: %q has %d values, expected %d", ErrSchema, key, len(f.floats), want)
	}
	return f.floats, nil
}

func str(features map[string]*feature, key string) (string, error) {
	f, ok := features[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrSchema, key)
	}
	if f.kind != bytesListField || len(f.bytes) != 1 {
		return "", fmt.Errorf("%w: %q is not a single bytes value", ErrSchema, key)
	}
	return string(f.bytes[0]), nil
}

func scalar(features map[string]*feature, key string) (int64, error) {
	f, ok := features[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrSchema, key)
	}
	if f.kind != int64ListField || len(f.ints) != 1 {
		return 0, fmt.Errorf("%w: %q is not a single int64 value", ErrSchema, key)
	}
	return f.ints[0], nil
}

// parseExample walks Example -> Features -> map entries -> Feature.
func parseExample(b []byte) (map[string]*feature, error) {
	out := make(map[string]*feature)
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != 1 || typ != protowire.BytesType {
			return nil
		}
		return eachField(v, func(num protowire.Number, typ protowire.Type, entry []byte) error {
			if num != 1 || typ != protowire.BytesType {
				return nil
			}
			key, f, err := parseEntry(entry)
			if err != nil {
				return err
			}
			out[key] = f
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseEntry(b []byte) (string, *feature, error) {
	var key string
	f := &feature{}
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			key = string(v)
		case 2:
			return parseFeature(v, f)
		}
		return nil
	})
	return key, f, err
}

func parseFeature(b []byte, f *feature) error {
	return eachField(b, func(num protowire.Number, typ protowire.Type, list []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		f.kind = num
		switch num {
		case floatListField:
			return parseFloatList(list, f)
		case int64ListField:
			return parseInt64List(list, f)
		case bytesListField:
			return eachField(list, func(num protowire.Number, typ protowire.Type, v []byte) error {
				if num == 1 && typ == protowire.BytesType {
					f.bytes = append(f.bytes, v)
				}
				return nil
			})
		}
		return nil
	})
}

// Both packed and unpacked encodings are valid for repeated scalars.
func parseFloatList(b []byte, f *feature) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrSchema, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrSchema, protowire.ParseError(n))
			}
			b = b[n:]
			if len(packed)%4 != 0 {
				return fmt.Errorf("%w: packed float list of %d bytes", ErrSchema, len(packed))
			}
			if f.floats == nil {
				f.floats = make([]float32, 0, len(packed)/4)
			}
			for len(packed) > 0 {
				bits, m := protowire.ConsumeFixed32(packed)
				if m < 0 {
					return fmt.Errorf("%w: %v", ErrSchema, protowire.ParseError(m))
				}
				f.floats = append(f.floats, math.Float32frombits(bits))
				packed = packed[m:]
			}
		case num == 1 && typ == protowire.Fixed32Type:
			bits, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrSchema, protowire.ParseError(n))
			}
			b = b[n:]
			f.floats = append(f.floats, math.Float32frombits(bits))
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrSchema, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func parseInt64List(b []byte, f *feature) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrSchema, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrSchema, protowire.ParseError(n))
			}
			b = b[n:]
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return fmt.Errorf("%w: %v", ErrSchema, protowire.ParseError(m))
				}
				f.ints = append(f.ints, int64(v))
				packed = packed[m:]
			}
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrSchema, protowire.ParseError(n))
			}
			b = b[n:]
			f.ints = append(f.ints, int64(v))
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrSchema, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// eachField calls fn with the raw value of every length-delimited field in b.
// Scalar fields are skipped.
func eachField(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrSchema, protowire.ParseError(n))
		}
		b = b[n:]

		if typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrSchema, protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(num, typ, v); err != nil {
				return err
			}
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrSchema, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}
