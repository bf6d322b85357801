package contract

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/contractflow/internal/runtime/errors"
	"github.com/drblury/contractflow/internal/runtime/jsoncodec"
)

// Violation describes one failed constraint of a payload.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Rule    string `json:"rule,omitempty"`
}

func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// Schema checks raw JSON payloads. Validate reports every violation found,
// or nil when the payload conforms.
type Schema interface {
	Validate(payload []byte) []Violation
	// GoType is the Go type payloads decode into, or nil when the schema
	// is not backed by one.
	GoType() reflect.Type
}

const rootField = "(root)"

func normalizePayload(payload []byte) []byte {
	if len(payload) == 0 {
		return []byte("null")
	}
	return payload
}

// JSONSchema validates payloads against a JSON Schema document.
type JSONSchema struct {
	schema *gojsonschema.Schema
}

// NewJSONSchema compiles document. Malformed documents are rejected here
// rather than at validation time.
func NewJSONSchema(document string) (*JSONSchema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(document))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errspkg.ErrInvalidSchema, err)
	}
	return &JSONSchema{schema: compiled}, nil
}

// MustJSONSchema is NewJSONSchema that panics on error.
func MustJSONSchema(document string) *JSONSchema {
	s, err := NewJSONSchema(document)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate reports every schema violation with the offending field.
func (s *JSONSchema) Validate(payload []byte) []Violation {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(normalizePayload(payload)))
	if err != nil {
		return []Violation{{Field: rootField, Message: err.Error(), Rule: "json"}}
	}
	if result.Valid() {
		return nil
	}
	out := make([]Violation, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		out = append(out, Violation{Field: re.Field(), Message: re.Description(), Rule: re.Type()})
	}
	return out
}

// GoType returns nil: JSON Schema payloads have no Go type.
func (s *JSONSchema) GoType() reflect.Type { return nil }

// StructSchema decodes payloads into T and checks its `validate` struct tags.
// Field names in violations follow the json tags.
type StructSchema[T any] struct {
	validate *validator.Validate
}

// NewStructSchema builds a schema for T.
func NewStructSchema[T any]() *StructSchema[T] {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return &StructSchema[T]{validate: v}
}

// Validate decodes payload into a T and runs its validate tags.
func (s *StructSchema[T]) Validate(payload []byte) []Violation {
	var value T
	if err := jsoncodec.Unmarshal(normalizePayload(payload), &value); err != nil {
		return []Violation{{Field: rootField, Message: err.Error(), Rule: "json"}}
	}
	if !isStruct(reflect.TypeOf(value)) {
		return nil
	}
	err := s.validate.Struct(value)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []Violation{{Field: rootField, Message: err.Error()}}
	}
	out := make([]Violation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, Violation{
			Field:   fieldPath(fe.Namespace()),
			Message: describeFieldError(fe),
			Rule:    fe.Tag(),
		})
	}
	return out
}

// GoType returns the type of T.
func (s *StructSchema[T]) GoType() reflect.Type {
	return reflect.TypeFor[T]()
}

func isStruct(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

// fieldPath drops the top-level struct name from a validator namespace.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	}
	if fe.Param() != "" {
		return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
	}
	return "failed " + fe.Tag()
}

// ProtoSchema validates payloads as the protojson encoding of T.
type ProtoSchema[T proto.Message] struct {
	prototype T
}

// NewProtoSchema builds a schema from a prototype instance such as
// &pb.User{}.
func NewProtoSchema[T proto.Message](prototype T) (*ProtoSchema[T], error) {
	if reflect.ValueOf(prototype).IsNil() {
		return nil, fmt.Errorf("%w: nil proto prototype", errspkg.ErrSchemaRequired)
	}
	return &ProtoSchema[T]{prototype: prototype}, nil
}

// Validate decodes payload with protojson and checks required fields.
func (s *ProtoSchema[T]) Validate(payload []byte) []Violation {
	msg := s.prototype.ProtoReflect().New().Interface()
	if err := protojson.Unmarshal(normalizePayload(payload), msg); err != nil {
		return []Violation{{Field: rootField, Message: err.Error(), Rule: "protojson"}}
	}
	if err := proto.CheckInitialized(msg); err != nil {
		return []Violation{{Field: rootField, Message: err.Error(), Rule: "required"}}
	}
	return nil
}

// GoType returns the prototype's message type.
func (s *ProtoSchema[T]) GoType() reflect.Type {
	return reflect.TypeOf(s.prototype)
}

type anySchema struct{}

// Any accepts every well-formed JSON payload.
func Any() Schema { return anySchema{} }

// Validate only rejects malformed JSON.
func (anySchema) Validate(payload []byte) []Violation {
	var v any
	if err := jsoncodec.Unmarshal(normalizePayload(payload), &v); err != nil {
		return []Violation{{Field: rootField, Message: err.Error(), Rule: "json"}}
	}
	return nil
}

// GoType returns nil.
func (anySchema) GoType() reflect.Type { return nil }
