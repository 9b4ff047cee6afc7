package bytecode

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ImageMagic tags serialized programs (".fbc" files).
const ImageMagic = "FBC"

// image is the on-disk envelope around a Program.
type image struct {
	Magic   string   `cbor:"1,keyasint"`
	Program *Program `cbor:"2,keyasint"`
}

// cborEncMode uses canonical mode so that equal programs encode to equal
// bytes (map keys are sorted).
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalImage serializes a Program to CBOR bytes.
func MarshalImage(p *Program) ([]byte, error) {
	data, err := cborEncMode.Marshal(image{Magic: ImageMagic, Program: p})
	if err != nil {
		return nil, fmt.Errorf("bytecode: marshal image: %w", err)
	}
	return data, nil
}

// UnmarshalImage deserializes and validates a Program from CBOR bytes.
func UnmarshalImage(data []byte) (*Program, error) {
	var img image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal image: %w", err)
	}
	if img.Magic != ImageMagic || img.Program == nil {
		return nil, fmt.Errorf("bytecode: not a Falcon image")
	}
	if img.Program.Functions == nil {
		img.Program.Functions = make(map[string]FunctionInfo)
	}
	if err := img.Program.Validate(); err != nil {
		return nil, fmt.Errorf("bytecode: invalid image: %w", err)
	}
	return img.Program, nil
}

// Hash returns the hex SHA-256 of the program's canonical image.
func (p *Program) Hash() (string, error) {
	data, err := MarshalImage(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
