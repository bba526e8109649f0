// Package serializer converts RPC messages to bytes and back.
//
// Two implementations exist:
//
//   - jsonSerializerImpl (default): human readable, easy to inspect with curl.
//     Numbers inside document properties and view keys decode as float64,
//     which matches how views collate numbers.
//
//   - gobSerializerImpl: Go's gob encoding. Faster for large revision batches
//     but only usable between Go peers. The dynamic types of document
//     properties are registered in init.
//
// All serializer implementations are stateless and safe for concurrent use.
//
// Usage:
//
//	s, _ := serializer.NewSerializer("json")
//	data, err := s.Serialize(*common.NewDocGetRequest("b1", ""))
//	// ... send data ...
//	var resp common.Message
//	err = s.Deserialize(receivedData, &resp)
package serializer
