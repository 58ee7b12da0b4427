package bytecode

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// ImageVersion is bumped on incompatible changes to the image layout.
const ImageVersion uint16 = 1

// Image is the self-describing form of a container. Unlike the raw binary form
// it keeps the function table (names and signatures) so a loaded program can be
// linked against natives by name.
type Image struct {
	Version     uint16          `cbor:"version"`
	Words       []Word          `cbor:"words"`
	Functions   []FunctionImage `cbor:"functions"`
	Fingerprint uint64          `cbor:"fingerprint"`
}

type FunctionImage struct {
	Name             string `cbor:"name"`
	ParamCount       int    `cbor:"params"`
	ReturnCount      int    `cbor:"returns"`
	CalleePopsParams bool   `cbor:"callee_pops"`
}

var imageEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em
}

func MarshalImage(c *Container) ([]byte, error) {
	img := Image{
		Version:     ImageVersion,
		Words:       append([]Word(nil), c.words...),
		Fingerprint: c.Fingerprint(),
	}
	for _, fn := range c.functions {
		img.Functions = append(img.Functions, FunctionImage{
			Name:             fn.Name,
			ParamCount:       fn.ParamCount,
			ReturnCount:      fn.ReturnCount,
			CalleePopsParams: fn.CalleePopsParams,
		})
	}
	return imageEncMode.Marshal(&img)
}

// UnmarshalImage decodes an image. The function table entries carry no handles
// until the container is linked.
func UnmarshalImage(data []byte) (*Container, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal image: %w", err)
	}
	if img.Version != ImageVersion {
		return nil, fmt.Errorf("%w: image version %d, want %d", ErrMalformed, img.Version, ImageVersion)
	}
	if len(img.Words)%InstructionWidth != 0 {
		return nil, fmt.Errorf("%w: odd word count %d", ErrMalformed, len(img.Words))
	}

	c := FromWords(img.Words)
	fns := make([]*Function, len(img.Functions))
	for i, fi := range img.Functions {
		fns[i] = &Function{
			Name:             fi.Name,
			ParamCount:       fi.ParamCount,
			ReturnCount:      fi.ReturnCount,
			CalleePopsParams: fi.CalleePopsParams,
		}
	}
	c.functions = fns
	if got := c.Fingerprint(); got != img.Fingerprint {
		return nil, fmt.Errorf("%w: fingerprint %016x does not match %016x", ErrMalformed, got, img.Fingerprint)
	}
	return c, nil
}

func SaveImage(c *Container, filename string) error {
	data, err := MarshalImage(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("save image: %w", err)
	}
	return nil
}

func LoadImage(filename string) (*Container, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("load image: %w", err)
	}
	c, err := UnmarshalImage(data)
	if err != nil {
		return nil, fmt.Errorf("load image from '%s': %w", filename, err)
	}
	return c, nil
}
