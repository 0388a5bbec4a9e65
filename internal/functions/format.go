package functions

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"metaui/internal/expr"
	"metaui/internal/util/jsonutil"
)

const maxDecimals = 12

func fnFormatString(_ *binding, ctx expr.CallContext, args map[string]any) any {
	v := args["value"]
	if s, ok := v.(string); ok && ctx.Resolver != nil {
		v = ctx.Resolver.Interpolate(ctx.Scope, s)
	}
	return jsonutil.Stringify(v)
}

func localeTag(args map[string]any) language.Tag {
	if raw, ok := args["locale"].(string); ok && strings.TrimSpace(raw) != "" {
		if parsed, err := language.Parse(strings.TrimSpace(raw)); err == nil {
			return parsed
		}
	}
	return language.English
}

func printer(args map[string]any) *message.Printer {
	return message.NewPrinter(localeTag(args))
}

func decimalOptions(args map[string]any, defaultScale int, fixed bool) []number.Option {
	var opts []number.Option
	if d, ok := jsonutil.Finite(args["decimals"]); ok {
		scale := int(math.Max(0, math.Min(maxDecimals, math.Round(d))))
		opts = append(opts, number.Scale(scale))
	} else if fixed {
		opts = append(opts, number.Scale(defaultScale))
	} else {
		opts = append(opts, number.MaxFractionDigits(defaultScale))
	}
	if g, ok := args["grouping"].(bool); ok && !g {
		opts = append(opts, number.NoSeparator())
	}
	return opts
}

func fnFormatNumber(_ *binding, _ expr.CallContext, args map[string]any) any {
	v, ok := jsonutil.Finite(args["value"])
	if !ok {
		return jsonutil.Stringify(args["value"])
	}
	return printer(args).Sprint(number.Decimal(v, decimalOptions(args, 2, false)...))
}

func fnFormatCurrency(b *binding, _ expr.CallContext, args map[string]any) any {
	v, ok := jsonutil.Finite(args["value"])
	if !ok {
		return jsonutil.Stringify(args["value"])
	}
	code, _ := args["currency"].(string)
	code = strings.ToUpper(strings.TrimSpace(code))
	unit, err := currency.ParseISO(code)
	if err != nil {
		b.warn("INVALID_CURRENCY", fmt.Sprintf("formatCurrency: unknown currency %q", code))
		return printer(args).Sprint(number.Decimal(v, decimalOptions(args, 2, true)...))
	}
	scale, _ := currency.Standard.Rounding(unit)
	amount := printer(args).Sprint(number.Decimal(v, decimalOptions(args, scale, true)...))
	return unit.String() + " " + amount
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
}

func parseDate(v any, now time.Time) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return now, true
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}
	if ms, ok := jsonutil.Finite(v); ok {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	return time.Time{}, false
}

var dateTokens = []string{"YYYY", "MMM", "MM", "dd", "hh", "mm", "ss", "h", "a", "E"}

// formatDate renders t with the token set YYYY, MMM, MM, dd, hh, h, mm, ss,
// a and E. Hours are on the 24-hour clock for both hh and h; a adds AM/PM.
func formatDate(t time.Time, format string) string {
	var b strings.Builder
	for i := 0; i < len(format); {
		matched := ""
		for _, tok := range dateTokens {
			if strings.HasPrefix(format[i:], tok) {
				matched = tok
				break
			}
		}
		switch matched {
		case "":
			b.WriteByte(format[i])
			i++
			continue
		case "YYYY":
			b.WriteString(strconv.Itoa(t.Year()))
		case "MMM":
			b.WriteString(t.Format("Jan"))
		case "MM":
			fmt.Fprintf(&b, "%02d", int(t.Month()))
		case "dd":
			fmt.Fprintf(&b, "%02d", t.Day())
		case "hh":
			fmt.Fprintf(&b, "%02d", t.Hour())
		case "h":
			b.WriteString(strconv.Itoa(t.Hour()))
		case "mm":
			fmt.Fprintf(&b, "%02d", t.Minute())
		case "ss":
			fmt.Fprintf(&b, "%02d", t.Second())
		case "a":
			if t.Hour() < 12 {
				b.WriteString("AM")
			} else {
				b.WriteString("PM")
			}
		case "E":
			b.WriteString(t.Format("Mon"))
		}
		i += len(matched)
	}
	return b.String()
}

func fnFormatDate(b *binding, _ expr.CallContext, args map[string]any) any {
	t, ok := parseDate(args["value"], b.engine.now())
	if !ok {
		return jsonutil.Stringify(args["value"])
	}
	format, _ := args["format"].(string)
	if format == "" {
		format = "YYYY-MM-dd"
	}
	return formatDate(t, format)
}

// pluralCategory is the CLDR cardinal category of the integer n in tag.
func pluralCategory(tag language.Tag, n int) string {
	switch plural.Cardinal.MatchPlural(tag, n, 0, 0, 0, 0) {
	case plural.Zero:
		return "zero"
	case plural.One:
		return "one"
	case plural.Two:
		return "two"
	case plural.Few:
		return "few"
	case plural.Many:
		return "many"
	}
	return "other"
}

func fnPluralize(_ *binding, _ expr.CallContext, args map[string]any) any {
	v, ok := jsonutil.Finite(args["value"])
	if !ok {
		return jsonutil.Stringify(args["other"])
	}
	n := int(math.Abs(math.Trunc(v)))
	// An explicit zero form applies to 0 in every locale.
	if text, ok := args["zero"]; ok && text != nil && n == 0 {
		return jsonutil.Stringify(text)
	}
	if text, ok := args[pluralCategory(localeTag(args), n)]; ok && text != nil {
		return jsonutil.Stringify(text)
	}
	return jsonutil.Stringify(args["other"])
}
