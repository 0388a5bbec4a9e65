package catalog

// Schema fragments. Any prop that accepts a literal also accepts a mapping,
// which is a structured descriptor resolved at render time.

func object(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func dynamic(s map[string]any) map[string]any {
	return map[string]any{"anyOf": []any{s, map[string]any{"type": "object"}}}
}

func stringType() map[string]any  { return map[string]any{"type": "string"} }
func numberType() map[string]any  { return map[string]any{"type": "number"} }
func booleanType() map[string]any { return map[string]any{"type": "boolean"} }

func enum(values ...string) map[string]any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return map[string]any{"type": "string", "enum": out}
}

func idRef() map[string]any {
	return map[string]any{"type": "string", "minLength": 1}
}

func childrenSchema() map[string]any {
	return map[string]any{"anyOf": []any{
		map[string]any{"type": "array", "items": idRef()},
		object(map[string]any{
			"componentId": idRef(),
			"path":        map[string]any{"type": "string", "minLength": 1},
		}, "componentId", "path"),
	}}
}

func checksSchema() map[string]any {
	return map[string]any{
		"type": "array",
		"items": object(map[string]any{
			"call":    map[string]any{"type": "string", "minLength": 1},
			"args":    map[string]any{"type": "object"},
			"message": dynamic(stringType()),
		}, "call"),
	}
}

func actionSchema() map[string]any {
	return object(map[string]any{
		"event": object(map[string]any{
			"name":    map[string]any{"type": "string", "minLength": 1},
			"context": map[string]any{"type": "object"},
		}, "name"),
		"functionCall": object(map[string]any{
			"call": map[string]any{"type": "string", "minLength": 1},
			"args": map[string]any{"type": "object"},
		}, "call"),
	})
}

var (
	justifyValues   = []string{"start", "center", "end", "spaceBetween", "spaceAround", "spaceEvenly", "stretch"}
	alignValues     = []string{"start", "center", "end", "stretch"}
	textVariants    = []string{"h1", "h2", "h3", "h4", "h5", "caption", "body"}
	imageFits       = []string{"contain", "cover", "fill", "none", "scaleDown"}
	imageVariants   = []string{"icon", "avatar", "smallFeature", "mediumFeature", "largeFeature", "header"}
	buttonVariants  = []string{"default", "primary", "borderless"}
	fieldVariants   = []string{"shortText", "longText", "number", "obscured"}
	pickerVariants  = []string{VariantMutuallyExclusive, VariantMultipleSelection}
	dividerAxes     = []string{"horizontal", "vertical"}
	listDirections  = []string{"vertical", "horizontal"}
	commonPropNames = []string{"weight", "accessibility"}
)

const (
	VariantMutuallyExclusive = "mutuallyExclusive"
	VariantMultipleSelection = "multipleSelection"
)

// Definition is one catalog entry: the allowed props, the required subset and
// a JSON Schema for prop shapes.
type Definition struct {
	Type     string
	Props    map[string]map[string]any
	Required []string
}

func standardDefinitions() []Definition {
	return []Definition{
		{Type: "Text", Required: []string{"text"}, Props: map[string]map[string]any{
			"text":    dynamic(stringType()),
			"variant": dynamic(enum(textVariants...)),
		}},
		{Type: "Image", Required: []string{"url"}, Props: map[string]map[string]any{
			"url":     dynamic(stringType()),
			"fit":     dynamic(enum(imageFits...)),
			"variant": dynamic(enum(imageVariants...)),
			"altText": dynamic(stringType()),
		}},
		{Type: "Icon", Required: []string{"name"}, Props: map[string]map[string]any{
			"name": dynamic(stringType()),
		}},
		{Type: "Video", Required: []string{"url"}, Props: map[string]map[string]any{
			"url": dynamic(stringType()),
		}},
		{Type: "AudioPlayer", Required: []string{"url"}, Props: map[string]map[string]any{
			"url":         dynamic(stringType()),
			"description": dynamic(stringType()),
		}},
		{Type: "Row", Required: []string{"children"}, Props: map[string]map[string]any{
			"children": childrenSchema(),
			"justify":  enum(justifyValues...),
			"align":    enum(alignValues...),
		}},
		{Type: "Column", Required: []string{"children"}, Props: map[string]map[string]any{
			"children": childrenSchema(),
			"justify":  enum(justifyValues...),
			"align":    enum(alignValues...),
		}},
		{Type: "List", Required: []string{"children"}, Props: map[string]map[string]any{
			"children":  childrenSchema(),
			"direction": enum(listDirections...),
			"align":     enum(alignValues...),
		}},
		{Type: "Card", Required: []string{"child"}, Props: map[string]map[string]any{
			"child": idRef(),
		}},
		{Type: "Tabs", Required: []string{"tabs"}, Props: map[string]map[string]any{
			"tabs": {
				"type":     "array",
				"minItems": 1,
				"items": object(map[string]any{
					"title": dynamic(stringType()),
					"child": idRef(),
				}, "title", "child"),
			},
		}},
		{Type: "Modal", Required: []string{"trigger", "content"}, Props: map[string]map[string]any{
			"trigger": idRef(),
			"content": idRef(),
		}},
		{Type: "Divider", Props: map[string]map[string]any{
			"axis": enum(dividerAxes...),
		}},
		{Type: "Button", Required: []string{"child", "action"}, Props: map[string]map[string]any{
			"child":   idRef(),
			"action":  actionSchema(),
			"variant": enum(buttonVariants...),
		}},
		{Type: "TextField", Required: []string{"label"}, Props: map[string]map[string]any{
			"label":            dynamic(stringType()),
			"value":            dynamic(stringType()),
			"variant":          enum(fieldVariants...),
			"validationRegexp": stringType(),
			"checks":           checksSchema(),
		}},
		{Type: "CheckBox", Required: []string{"label", "value"}, Props: map[string]map[string]any{
			"label":  dynamic(stringType()),
			"value":  dynamic(booleanType()),
			"checks": checksSchema(),
		}},
		{Type: "ChoicePicker", Required: []string{"options", "value"}, Props: map[string]map[string]any{
			"label": dynamic(stringType()),
			"options": {
				"type":     "array",
				"minItems": 1,
				"items": object(map[string]any{
					"label": dynamic(stringType()),
					"value": map[string]any{},
				}, "label", "value"),
			},
			"value":   map[string]any{},
			"variant": enum(pickerVariants...),
			"checks":  checksSchema(),
		}},
		{Type: "Slider", Required: []string{"min", "max", "value"}, Props: map[string]map[string]any{
			"label":  dynamic(stringType()),
			"min":    numberType(),
			"max":    numberType(),
			"value":  dynamic(numberType()),
			"checks": checksSchema(),
		}},
		{Type: "DateTimeInput", Required: []string{"value"}, Props: map[string]map[string]any{
			"value":      dynamic(stringType()),
			"enableDate": booleanType(),
			"enableTime": booleanType(),
			"label":      dynamic(stringType()),
			"checks":     checksSchema(),
		}},
	}
}

// schemaDocument renders a definition as a Draft 2020-12 schema.
func (d Definition) schemaDocument() map[string]any {
	props := make(map[string]any, len(d.Props)+len(commonPropNames))
	for k, v := range d.Props {
		props[k] = v
	}
	props["weight"] = numberType()
	props["accessibility"] = object(map[string]any{
		"label":       dynamic(stringType()),
		"description": dynamic(stringType()),
	})
	doc := map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(d.Required) > 0 {
		doc["required"] = d.Required
	}
	return doc
}
