package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/ethpandaops/gatf-node/internal/testdef"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// encodeObject renders v as a protobuf encoded structpb.Value. Values go
// through their JSON form first so struct tags decide the field names.
func encodeObject(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}

	value, err := structpb.NewValue(generic)
	if err != nil {
		return nil, err
	}

	return proto.Marshal(value)
}

func decodeObject(body []byte, v any) error {
	var value structpb.Value
	if err := proto.Unmarshal(body, &value); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	data, err := json.Marshal(value.AsInterface())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return nil
}

// payloads maps each command that carries an object to a constructor for
// its payload type.
var payloads = map[Command]func() any{
	CommandConfigShareReq: func() any { return &testdef.SharedConfig{} },
	CommandTestsShareReq:  func() any { return &testdef.TestSet{} },
	CommandTestsShareRes:  func() any { return &testdef.DistributedTestStatus{} },
	CommandSeleniumReq:    func() any { return &testdef.UnitRequest{} },
	CommandLoadTestsRes:   func() any { return &testdef.LoadTestEntry{} },
}

// NewPayload returns an empty payload value for cmd.
func NewPayload(cmd Command) (any, error) {
	ctor, ok := payloads[cmd]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPayload, cmd)
	}

	return ctor(), nil
}
