package tools

import (
	"context"
	"fmt"

	"github.com/vitacare/concierge/internal/model"
)

const maxButtonLabel = 20

// InteractiveMessageTool stages a rich payload (reply buttons or a
// list) to ride along with the final reply. Staging replaces any
// earlier staged payload in the same turn.
type InteractiveMessageTool struct{}

func NewInteractiveMessageTool() *InteractiveMessageTool { return &InteractiveMessageTool{} }

func (t *InteractiveMessageTool) Name() string { return "send_interactive_message" }

func (t *InteractiveMessageTool) Description() string {
	return "Send reply buttons (1-3, labels up to 20 chars) or a sectioned list along with your answer. Prefer buttons for short choices, lists for slot menus."
}

func (t *InteractiveMessageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"kind": map[string]interface{}{
				"type": "string",
				"enum": []string{"buttons", "list"},
			},
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Body text shown above the choices.",
			},
			"buttons": map[string]interface{}{
				"type":        "array",
				"description": "For kind=buttons: 1-3 items.",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"id":    map[string]interface{}{"type": "string"},
						"label": map[string]interface{}{"type": "string"},
					},
					"required": []string{"id", "label"},
				},
			},
			"sections": map[string]interface{}{
				"type":        "array",
				"description": "For kind=list: at least one section with rows.",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"title": map[string]interface{}{"type": "string"},
						"rows": map[string]interface{}{
							"type": "array",
							"items": map[string]interface{}{
								"type": "object",
								"properties": map[string]interface{}{
									"id":          map[string]interface{}{"type": "string"},
									"title":       map[string]interface{}{"type": "string"},
									"description": map[string]interface{}{"type": "string"},
								},
								"required": []string{"id", "title"},
							},
						},
					},
					"required": []string{"rows"},
				},
			},
			"list_button_text": map[string]interface{}{
				"type":        "string",
				"description": "For kind=list: label of the button that opens the list.",
			},
		},
		"required": []string{"kind", "text"},
	}
}

func (t *InteractiveMessageTool) Execute(ctx context.Context, turn *Turn, args map[string]interface{}) *Result {
	kind, _ := args["kind"].(string)
	text, _ := args["text"].(string)
	if text == "" {
		return ErrorResult("text is required")
	}

	switch model.InteractiveKind(kind) {
	case model.InteractiveButtons:
		buttons, err := parseButtons(args["buttons"])
		if err != nil {
			return ErrorResult(err.Error())
		}
		turn.Interactive = &model.Interactive{
			Kind:    model.InteractiveButtons,
			Text:    text,
			Buttons: buttons,
		}
	case model.InteractiveList:
		sections, err := parseSections(args["sections"])
		if err != nil {
			return ErrorResult(err.Error())
		}
		listButton, _ := args["list_button_text"].(string)
		if listButton == "" {
			return ErrorResult("list_button_text is required for kind=list")
		}
		turn.Interactive = &model.Interactive{
			Kind:           model.InteractiveList,
			Text:           text,
			Sections:       sections,
			ListButtonText: listButton,
		}
	default:
		return ErrorResult("kind must be 'buttons' or 'list'")
	}

	return SilentResult(`{"staged":true}`)
}

func parseButtons(raw interface{}) ([]model.Button, error) {
	items, _ := raw.([]interface{})
	if len(items) < 1 || len(items) > 3 {
		return nil, fmt.Errorf("buttons must have 1 to 3 items")
	}
	out := make([]model.Button, 0, len(items))
	for _, it := range items {
		m, _ := it.(map[string]interface{})
		id, _ := m["id"].(string)
		label, _ := m["label"].(string)
		if id == "" || label == "" {
			return nil, fmt.Errorf("every button needs id and label")
		}
		if len([]rune(label)) > maxButtonLabel {
			return nil, fmt.Errorf("button label %q exceeds %d characters", label, maxButtonLabel)
		}
		out = append(out, model.Button{ID: id, Label: label})
	}
	return out, nil
}

func parseSections(raw interface{}) ([]model.ListSection, error) {
	items, _ := raw.([]interface{})
	if len(items) == 0 {
		return nil, fmt.Errorf("list needs at least one section")
	}
	out := make([]model.ListSection, 0, len(items))
	for _, it := range items {
		m, _ := it.(map[string]interface{})
		title, _ := m["title"].(string)
		rawRows, _ := m["rows"].([]interface{})
		if len(rawRows) == 0 {
			return nil, fmt.Errorf("every section needs rows")
		}
		rows := make([]model.ListRow, 0, len(rawRows))
		for _, rr := range rawRows {
			rm, _ := rr.(map[string]interface{})
			id, _ := rm["id"].(string)
			rowTitle, _ := rm["title"].(string)
			if id == "" || rowTitle == "" {
				return nil, fmt.Errorf("every row needs id and title")
			}
			desc, _ := rm["description"].(string)
			rows = append(rows, model.ListRow{ID: id, Title: rowTitle, Description: desc})
		}
		out = append(out, model.ListSection{Title: title, Rows: rows})
	}
	return out, nil
}
