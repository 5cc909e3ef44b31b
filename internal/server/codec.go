package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/receipt-rewards/internal/common"
)

// args reads typed request fields out of a structpb.Struct.
type args struct {
	fields map[string]*structpb.Value
}

func argsOf(in *structpb.Struct) args {
	return args{fields: in.GetFields()}
}

func (a args) str(name string) string {
	return strings.TrimSpace(a.fields[name].GetStringValue())
}

func (a args) has(name string) bool {
	v, ok := a.fields[name]
	if !ok {
		return false
	}
	_, null := v.GetKind().(*structpb.Value_NullValue)
	return !null
}

func (a args) boolean(name string) bool {
	return a.fields[name].GetBoolValue()
}

func (a args) integer(name string, def int) int {
	if !a.has(name) {
		return def
	}
	return int(a.fields[name].GetNumberValue())
}

func (a args) number(name string) *float64 {
	if !a.has(name) {
		return nil
	}
	f := a.fields[name].GetNumberValue()
	return &f
}

func (a args) uuid(name string) (uuid.UUID, error) {
	id, err := uuid.Parse(a.str(name))
	if err != nil {
		return uuid.Nil, common.InvalidArgumentErrorf("%s must be a UUID", name)
	}
	return id, nil
}

func (a args) optUUID(name string) (*uuid.UUID, error) {
	if a.str(name) == "" {
		return nil, nil
	}
	id, err := a.uuid(name)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// instant accepts RFC 3339 timestamps or YYYY-MM-DD dates.
func (a args) instant(name string) (*time.Time, error) {
	s := a.str(name)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, common.InvalidArgumentErrorf("%s must be RFC 3339 or YYYY-MM-DD", name)
}

// toStruct renders v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return structpb.NewStruct(m)
}

// listStruct wraps a slice under key.
func listStruct(key string, v any) (*structpb.Struct, error) {
	return toStruct(map[string]any{key: v})
}
