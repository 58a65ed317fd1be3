package types

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Deterministic CBOR (RFC 8949 core deterministic encoding). Sign bytes,
// tx hashes and the app hash all depend on identical input producing
// identical bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	// stateDecMode reads locally produced application state, whose maps
	// grow with the number of holders and are not bounded by the default
	// decoder limits.
	stateDecMode cbor.DecMode
)

// maxStateContainerLen is the largest map or array the state decoder accepts.
const maxStateContainerLen = 2147483647

func init() {
	var err error

	encOpts := cbor.CoreDetEncOptions()
	encOpts.BigIntConvert = cbor.BigIntConvertShortest
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic("types: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("types: CBOR decoder initialization failed: " + err.Error())
	}

	stateDecMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs:      maxStateContainerLen,
		MaxArrayElements: maxStateContainerLen,
	}.DecMode()
	if err != nil {
		panic("types: CBOR state decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v with deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// UnmarshalState decodes application state or a snapshot into v. Unlike
// Unmarshal it places no limit on the size of maps and arrays, so use it
// only for data this node wrote itself.
func UnmarshalState(data []byte, v any) error {
	return stateDecMode.Unmarshal(data, v)
}

// NewEncoder returns a deterministic CBOR stream encoder.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR stream decoder.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
