package model

// InteractiveKind selects the rich message shape.
type InteractiveKind string

const (
	InteractiveButtons InteractiveKind = "buttons"
	InteractiveList    InteractiveKind = "list"
)

// Button is one reply button. Labels are capped at 20 characters by the
// transport.
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ListRow is one selectable row in a list message.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ListSection groups rows under a heading.
type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

// Interactive is a staged rich message: reply buttons (1 to 3) or a
// sectioned list. Exactly one of Buttons/Sections is populated,
// according to Kind.
type Interactive struct {
	Kind           InteractiveKind `json:"kind"`
	Text           string          `json:"text"`
	Buttons        []Button        `json:"buttons,omitempty"`
	Sections       []ListSection   `json:"sections,omitempty"`
	ListButtonText string          `json:"list_button_text,omitempty"`
}
