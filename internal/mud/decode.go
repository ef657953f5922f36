package mud

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Decode parses raw MUD bytes into the generic value tree Build consumes.
// Numbers are kept as json.Number so integer fields are never rounded. An
// object that repeats a key is rejected rather than keeping the last value.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tree, err := decodeValue(dec, "", false)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &StructuralError{Path: "$", Reason: fmt.Sprintf("trailing data after document at offset %d", dec.InputOffset())}
	}
	return tree, nil
}

func decodeValue(dec *json.Decoder, path string, nested bool) (any, error) {
	tok, err := next(dec, nested)
	if err != nil {
		return nil, err
	}
	switch tok {
	case json.Delim('{'):
		obj := make(map[string]any)
		for dec.More() {
			keyTok, err := next(dec, true)
			if err != nil {
				return nil, err
			}
			key, _ := keyTok.(string)
			at := join(path, key)
			if _, dup := obj[key]; dup {
				return nil, &StructuralError{Path: at, Reason: fmt.Sprintf("duplicate key %q", key)}
			}
			if obj[key], err = decodeValue(dec, at, true); err != nil {
				return nil, err
			}
		}
		if _, err := next(dec, true); err != nil {
			return nil, err
		}
		return obj, nil
	case json.Delim('['):
		arr := []any{}
		for i := 0; dec.More(); i++ {
			v, err := decodeValue(dec, index(path, i), true)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if _, err := next(dec, true); err != nil {
			return nil, err
		}
		return arr, nil
	}
	return tok, nil
}

// next reads one token. Running out of input inside the document is a
// truncation, not an empty document.
func next(dec *json.Decoder, nested bool) (json.Token, error) {
	tok, err := dec.Token()
	if err == nil {
		return tok, nil
	}
	if errors.Is(err, io.EOF) && nested {
		err = io.ErrUnexpectedEOF
	}
	return nil, decodeError(err)
}

func decodeError(err error) error {
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return &StructuralError{Path: "$", Reason: fmt.Sprintf("malformed json at offset %d", syn.Offset), Err: err}
	}
	if errors.Is(err, io.EOF) {
		return &StructuralError{Path: "$", Reason: "empty document"}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &StructuralError{Path: "$", Reason: "truncated document", Err: err}
	}
	return &StructuralError{Path: "$", Reason: "malformed json", Err: err}
}
