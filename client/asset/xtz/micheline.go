// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package xtz

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
)

// The node RPC speaks the JSON form of values. These helpers convert between
// it and the binary Value types.

var primNames = map[PrimKind]string{
	PrimFalse: "False",
	PrimElt:   "Elt",
	PrimLeft:  "Left",
	PrimNone:  "None",
	PrimPair:  "Pair",
	PrimRight: "Right",
	PrimSome:  "Some",
	PrimTrue:  "True",
	PrimUnit:  "Unit",
}

var primKinds = func() map[string]PrimKind {
	m := make(map[string]PrimKind, len(primNames))
	for k, name := range primNames {
		m[name] = k
	}
	return m
}()

// michelineJSON builds the JSON-marshalable form of v.
func michelineJSON(v Value) any {
	switch tv := v.(type) {
	case *Int:
		return map[string]string{"int": tv.String()}
	case String:
		return map[string]string{"string": string(tv)}
	case Bytes:
		return map[string]string{"bytes": hex.EncodeToString(tv)}
	case List:
		items := make([]any, 0, len(tv))
		for _, item := range tv {
			items = append(items, michelineJSON(item))
		}
		return items
	case *Prim:
		node := map[string]any{"prim": primNames[tv.Kind]}
		if len(tv.Args) > 0 {
			args := make([]any, 0, len(tv.Args))
			for _, arg := range tv.Args {
				args = append(args, michelineJSON(arg))
			}
			node["args"] = args
		}
		return node
	}
	return nil
}

// MarshalMicheline encodes v in the node's JSON format.
func MarshalMicheline(v Value) (json.RawMessage, error) {
	return json.Marshal(michelineJSON(v))
}

type michelineNode struct {
	Prim   string            `json:"prim"`
	Args   []json.RawMessage `json:"args"`
	Int    *string           `json:"int"`
	String *string           `json:"string"`
	Bytes  *string           `json:"bytes"`
}

// ParseMicheline decodes the node's JSON format. Pairs with more than two
// arguments are read as right combs.
func ParseMicheline(b json.RawMessage) (Value, error) {
	return parseMicheline(b, 0)
}

func parseMicheline(b json.RawMessage, depth int) (Value, error) {
	if depth > maxValueDepth {
		return nil, fmt.Errorf("%w: value nested too deeply", ErrMalformed)
	}
	if len(b) > 0 && b[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, err
		}
		list := make(List, 0, len(raw))
		for _, r := range raw {
			item, err := parseMicheline(r, depth+1)
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
		return list, nil
	}
	var node michelineNode
	if err := json.Unmarshal(b, &node); err != nil {
		return nil, err
	}
	switch {
	case node.Int != nil:
		i, ok := new(big.Int).SetString(*node.Int, 10)
		if !ok {
			return nil, fmt.Errorf("%w: invalid int %q", ErrMalformed, *node.Int)
		}
		return &Int{i}, nil
	case node.String != nil:
		return String(*node.String), nil
	case node.Bytes != nil:
		bs, err := hex.DecodeString(*node.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid bytes: %v", ErrMalformed, err)
		}
		return Bytes(bs), nil
	}
	kind, found := primKinds[node.Prim]
	if !found {
		return nil, fmt.Errorf("%w: unsupported prim %q", ErrMalformed, node.Prim)
	}
	args := make([]Value, 0, len(node.Args))
	for _, raw := range node.Args {
		arg, err := parseMicheline(raw, depth+1)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	if kind == PrimPair && len(args) > 2 {
		return FoldArgs(args...), nil
	}
	if len(args) != kind.arity() {
		return nil, fmt.Errorf("%w: %s takes %d args, got %d", ErrMalformed, kind, kind.arity(), len(args))
	}
	return &Prim{Kind: kind, Args: args}, nil
}
