package ui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"metaui/internal/surface"
	"metaui/internal/util/jsonutil"
)

// TextRenderer draws runtime events as plain text.
type TextRenderer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTextRenderer(w io.Writer) *TextRenderer {
	return &TextRenderer{w: w}
}

func (r *TextRenderer) EmitUIEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev.Type {
	case EventTypeRender:
		fmt.Fprint(r.w, RenderText(ev.Spec))
	case EventTypeClosed:
		fmt.Fprintf(r.w, "== surface %s closed ==\n", ev.SurfaceID)
	case EventTypeError:
		fmt.Fprintf(r.w, "!! surface %s cannot be shown: %s\n", ev.SurfaceID, ev.Message)
	case EventTypeToast:
		if ev.SurfaceID != "" {
			fmt.Fprintf(r.w, "[%s] %s: %s\n", ev.Level, ev.SurfaceID, ev.Message)
			return
		}
		fmt.Fprintf(r.w, "[%s] %s\n", ev.Level, ev.Message)
	case EventTypeStatus:
		fmt.Fprintf(r.w, "~ %s\n", ev.Message)
	case EventTypeOpenURL:
		fmt.Fprintf(r.w, "-> open %s\n", ev.URL)
	}
}

// RenderText draws a render tree, one component per line.
func RenderText(spec *surface.RenderSpec) string {
	if spec == nil || spec.Root == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "== surface %s ==\n", spec.SurfaceID)
	if spec.RootFallback {
		fmt.Fprintf(&b, "! no component named %q; showing %q as root\n", surface.RootID, spec.RootID)
	}
	writeNode(&b, spec.Root, 0)
	return b.String()
}

func writeNode(b *strings.Builder, n *surface.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	if line := nodeLine(n); line != "" {
		b.WriteString(indent)
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for _, msg := range n.Invalid {
		fmt.Fprintf(b, "%s  ! %s\n", indent, msg)
	}
	for _, c := range n.Children {
		writeNode(b, c, depth+1)
	}
}

func prop(n *surface.Node, key string) string {
	return jsonutil.Stringify(n.Props[key])
}

func labelled(label, value string) string {
	if label == "" {
		return value
	}
	return label + ": " + value
}

func nodeLine(n *surface.Node) string {
	switch n.Type {
	case "Text":
		return prop(n, "text")
	case "Image":
		return fmt.Sprintf("[image %s %s]", prop(n, "altText"), prop(n, "url"))
	case "Icon":
		return fmt.Sprintf("(%s)", prop(n, "name"))
	case "Video":
		return fmt.Sprintf("[video %s]", prop(n, "url"))
	case "AudioPlayer":
		return fmt.Sprintf("[audio %s %s]", prop(n, "description"), prop(n, "url"))
	case "Row", "Column", "List", "Card":
		return ""
	case "Divider":
		return "----"
	case "Tabs":
		tabs, _ := n.Props["tabs"].([]any)
		titles := make([]string, 0, len(tabs))
		for _, t := range tabs {
			tab, _ := t.(map[string]any)
			titles = append(titles, "["+jsonutil.Stringify(tab["title"])+"]")
		}
		return strings.Join(titles, " ")
	case "Modal":
		return "[modal]"
	case "Button":
		return "[button " + n.ID + "]"
	case "TextField", "DateTimeInput":
		return labelled(prop(n, "label"), "_"+prop(n, "value")+"_")
	case "CheckBox":
		box := "[ ]"
		if v, _ := n.Props["value"].(bool); v {
			box = "[x]"
		}
		return box + " " + prop(n, "label")
	case "ChoicePicker":
		return labelled(prop(n, "label"), choices(n))
	case "Slider":
		return labelled(prop(n, "label"), fmt.Sprintf("%s (%s..%s)", prop(n, "value"), prop(n, "min"), prop(n, "max")))
	}
	return "<" + n.Type + ">"
}

func choices(n *surface.Node) string {
	selected := map[string]bool{}
	switch v := n.Props["value"].(type) {
	case []any:
		for _, s := range v {
			selected[jsonutil.Stringify(s)] = true
		}
	case nil:
	default:
		selected[jsonutil.Stringify(v)] = true
	}
	opts, _ := n.Props["options"].([]any)
	parts := make([]string, 0, len(opts))
	for _, o := range opts {
		opt, _ := o.(map[string]any)
		mark := " "
		if selected[jsonutil.Stringify(opt["value"])] {
			mark = "*"
		}
		parts = append(parts, fmt.Sprintf("(%s) %s", mark, jsonutil.Stringify(opt["label"])))
	}
	return strings.Join(parts, " ")
}

// Recorder keeps every event it receives. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) EmitUIEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Of returns the recorded events of one type.
func (r *Recorder) Of(t EventType) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Last returns the most recent event of type t.
func (r *Recorder) Last(t EventType) (Event, bool) {
	evs := r.Of(t)
	if len(evs) == 0 {
		return Event{}, false
	}
	return evs[len(evs)-1], true
}

// Toasts returns recorded toast messages by level, sorted.
func (r *Recorder) Toasts(level Level) []string {
	var out []string
	for _, ev := range r.Of(EventTypeToast) {
		if ev.Level == level {
			out = append(out, ev.Message)
		}
	}
	sort.Strings(out)
	return out
}
