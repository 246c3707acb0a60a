package example

type TurnKind string

const (
	TurnKindUser          TurnKind = "user"
	TurnKindAssistantText TurnKind = "assistant_text"
)

type TurnStatus string

const (
	TurnStatusStreaming TurnStatus = "streaming"
	TurnStatusComplete  TurnStatus = "complete"
)

// Locale has no constants, so it is free text.
type Locale string

type Turn struct {
	Kind   TurnKind
	Status TurnStatus
	Locale Locale
}

func bad() {
	t := &Turn{}
	t.Status = "done" // want `enum field Status assigned string literal "done"; use a declared constant`

	_ = Turn{Kind: "assistant"} // want `enum field Kind assigned string literal "assistant"; use a declared constant`
}

func good() {
	t := &Turn{Kind: TurnKindAssistantText}
	t.Status = TurnStatusComplete // OK: using constant
	t.Locale = "de-CH"            // OK: not an enum
}

func alsoGood() {
	// OK: Variable, not literal
	status := TurnStatusStreaming
	t := &Turn{Kind: TurnKindUser, Status: status}
	_ = t
}
