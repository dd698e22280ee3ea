package event

import (
	"reflect"
	"strings"

	"github.com/stoewer/go-strcase"
)

// Named lets an event choose its wire name.
type Named interface {
	EventName() string
}

// Name converts a Go type name to the dotted wire name used on the broker:
// UserCreatedEvent becomes user.created.event. A non-blank override wins.
func Name(typeName, override string) string {
	if override = strings.TrimSpace(override); override != "" {
		return override
	}

	return strings.ReplaceAll(strcase.SnakeCase(typeName), "_", ".")
}

// TypeName returns the name of the dynamic type of ev, pointers removed.
func TypeName(ev any) string {
	if ev == nil {
		return ""
	}

	t := reflect.TypeOf(ev)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	return t.Name()
}

// NameOf returns the wire name of ev, honouring Named.
func NameOf(ev any) string {
	override := ""
	if named, ok := ev.(Named); ok {
		override = named.EventName()
	}

	return Name(TypeName(ev), override)
}
