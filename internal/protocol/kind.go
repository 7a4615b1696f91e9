package protocol

import "fmt"

// Kind is the closed set of chat event kinds carried in msg_type.
type Kind int

const (
	KindNormal Kind = iota
	KindWarning
	KindAlert
	KindMute
	KindJoin
	KindLeave

	// KindUnknown is what ParseKind returns for a msg_type outside the enumeration.
	KindUnknown Kind = -1
)

var kindNames = [...]string{"normal", "warning", "alert", "mute", "join", "leave"}

// ParseKind maps a wire msg_type to a Kind.
func ParseKind(v int) Kind {
	if v < int(KindNormal) || v > int(KindLeave) {
		return KindUnknown
	}
	return Kind(v)
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k >= KindNormal && k <= KindLeave
}

// HasBody reports whether events of this kind carry message text.
func (k Kind) HasBody() bool {
	return k != KindJoin && k != KindLeave && k.Valid()
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("unknown(%d)", int(k))
	}
	return kindNames[k]
}
