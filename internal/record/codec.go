package record

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Decode reads every YAML document in r. Each document must be a mapping.
func Decode(r io.Reader) ([]*Fields, error) {
	dec := yaml.NewDecoder(r)
	var docs []*Fields
	for {
		f := NewFields()
		err := dec.Decode(f)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Document: len(docs), Err: err}
		}
		docs = append(docs, f)
	}
	if len(docs) == 0 {
		return nil, &ParseError{Err: errors.New("empty document stream")}
	}
	return docs, nil
}

// DecodeN is Decode with an exact document count.
func DecodeN(r io.Reader, n int) ([]*Fields, error) {
	docs, err := Decode(r)
	if err != nil {
		return nil, err
	}
	if len(docs) != n {
		return nil, &ParseError{
			Document: len(docs),
			Err:      fmt.Errorf("expected %d documents, found %d", n, len(docs)),
		}
	}
	return docs, nil
}
