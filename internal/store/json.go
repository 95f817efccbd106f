package store

import "encoding/json"

func marshalDocument(record interface{}) ([]byte, error) {
	return json.Marshal(record)
}

func unmarshalDocument(doc []byte, out interface{}) error {
	return json.Unmarshal(doc, out)
}
