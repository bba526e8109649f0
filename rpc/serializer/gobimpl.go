package serializer

import (
	"bytes"
	"encoding/gob"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

// Document properties, view keys and values are dynamically typed.
// gob has to know every concrete type that can appear behind an interface.
func init() {
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
}

// NewGOBSerializer creates a new serializer using Go's binary gob format
func NewGOBSerializer() IRPCSerializer {
	return &gobSerializerImpl{}
}

// gobSerializerImpl implements the IRPCSerializer interface using gob encoding
type gobSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(msg)
}
