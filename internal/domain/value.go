package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ValueType tags which payload field a Value carries.
type ValueType string

// Value types. Number and boolean values are stored as string literals and
// interpreted at resolution time; encrypted-string payloads are opaque
// ciphertext produced by the configured cipher.
const (
	TypeString    ValueType = "string"
	TypeNumber    ValueType = "number"
	TypeBoolean   ValueType = "boolean"
	TypeJSON      ValueType = "json"
	TypeReference ValueType = "reference"
	TypeEncrypted ValueType = "encrypted"
)

// Value is one typed entry keyed by (object, environment, key). Exactly one
// payload field matching the type must be populated; use the constructors
// rather than filling the struct by hand.
type Value struct {
	ID          string
	ObjectID    string
	Environment string
	Key         string
	Type        ValueType

	StringValue    *string
	JSONValue      json.RawMessage
	ReferenceID    *string
	EncryptedValue []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewStringValue builds a plain string value.
func NewStringValue(objectID, environment, key, val string) Value {
	return Value{ObjectID: objectID, Environment: environment, Key: key, Type: TypeString, StringValue: &val}
}

// NewNumberValue builds a numeric value from its string literal. The
// literal is kept verbatim; resolution parses it and falls back to 0.
func NewNumberValue(objectID, environment, key, literal string) Value {
	return Value{ObjectID: objectID, Environment: environment, Key: key, Type: TypeNumber, StringValue: &literal}
}

// NewBooleanValue builds a boolean value. Anything other than the literal
// "true" resolves to false.
func NewBooleanValue(objectID, environment, key string, val bool) Value {
	literal := strconv.FormatBool(val)
	return Value{ObjectID: objectID, Environment: environment, Key: key, Type: TypeBoolean, StringValue: &literal}
}

// NewJSONValue builds a JSON value from a raw document.
func NewJSONValue(objectID, environment, key string, raw json.RawMessage) Value {
	return Value{ObjectID: objectID, Environment: environment, Key: key, Type: TypeJSON, JSONValue: raw}
}

// NewReferenceValue builds a weak reference to another object. The target
// may be deleted later; references are allowed to dangle.
func NewReferenceValue(objectID, environment, key, referencedObjectID string) Value {
	return Value{ObjectID: objectID, Environment: environment, Key: key, Type: TypeReference, ReferenceID: &referencedObjectID}
}

// NewEncryptedValue builds an encrypted-string value from ciphertext.
func NewEncryptedValue(objectID, environment, key string, ciphertext []byte) Value {
	return Value{ObjectID: objectID, Environment: environment, Key: key, Type: TypeEncrypted, EncryptedValue: ciphertext}
}

// Validate checks the type tag against the populated payload fields:
// exactly the field matching the type must be set.
func (v Value) Validate() error {
	if v.Key == "" {
		return fmt.Errorf("value key required")
	}
	if v.Environment == "" {
		return fmt.Errorf("value environment required")
	}
	switch v.Type {
	case TypeString, TypeNumber, TypeBoolean:
		if v.StringValue == nil {
			return fmt.Errorf("%s value requires a string payload", v.Type)
		}
		if v.JSONValue != nil || v.ReferenceID != nil || v.EncryptedValue != nil {
			return fmt.Errorf("%s value must populate only the string payload", v.Type)
		}
	case TypeJSON:
		if v.JSONValue == nil {
			return fmt.Errorf("json value requires a json payload")
		}
		if !json.Valid(v.JSONValue) {
			return fmt.Errorf("json value payload is not valid JSON")
		}
		if v.StringValue != nil || v.ReferenceID != nil || v.EncryptedValue != nil {
			return fmt.Errorf("json value must populate only the json payload")
		}
	case TypeReference:
		if v.ReferenceID == nil || *v.ReferenceID == "" {
			return fmt.Errorf("reference value requires a target object id")
		}
		if v.StringValue != nil || v.JSONValue != nil || v.EncryptedValue != nil {
			return fmt.Errorf("reference value must populate only the reference payload")
		}
	case TypeEncrypted:
		if len(v.EncryptedValue) == 0 {
			return fmt.Errorf("encrypted value requires ciphertext")
		}
		if v.StringValue != nil || v.JSONValue != nil || v.ReferenceID != nil {
			return fmt.Errorf("encrypted value must populate only the ciphertext payload")
		}
	default:
		return fmt.Errorf("unknown value type %q", v.Type)
	}
	return nil
}
