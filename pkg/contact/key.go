package contact

import "github.com/hazyhaar/contacts-merger/pkg/normalize"

// KeyKind tells which canonical field a Key was derived from.
type KeyKind string

const (
	KeyPhone KeyKind = "tel"
	KeyName  KeyKind = "name"
)

// Key is a merge key: two records sharing a key denote the same person.
type Key struct {
	Kind  KeyKind
	Value string
}

func (k Key) String() string { return string(k.Kind) + ":" + k.Value }

// PhoneKeys returns one key per canonical phone, in record order.
func (r *Record) PhoneKeys() []Key {
	keys := make([]Key, 0, len(r.Phones))
	for _, p := range r.Phones {
		keys = append(keys, Key{Kind: KeyPhone, Value: p})
	}
	return keys
}

// NameKey returns the name key, and false when the record has no usable name.
func (r *Record) NameKey() (Key, bool) {
	v := normalize.NameKey(r.Name.Full())
	if v == "" {
		return Key{}, false
	}
	return Key{Kind: KeyName, Value: v}, true
}

// PrimaryKey is the key a record is reported under: its first phone, or
// its name when it has no phone.
func (r *Record) PrimaryKey() (Key, bool) {
	if len(r.Phones) > 0 {
		return Key{Kind: KeyPhone, Value: r.Phones[0]}, true
	}
	return r.NameKey()
}
