package recurrence

import (
	"strconv"
	"strings"
	"time"
)

// Token kinds produced by Describe.
const (
	TokenNone     = "none"     // the rule does not repeat
	TokenEvery    = "every"    // Value: interval
	TokenUnit     = "unit"     // Value: day, week, month or year
	TokenWeekdays = "weekdays" // Value: comma separated short weekday names
	TokenMonthDay = "monthday" // Value: day of month
	TokenNth      = "nth"      // Value: 1, 2, 3, 4 or last
	TokenWeekday  = "weekday"  // Value: short weekday name
	TokenUntil    = "until"    // Value: YYYY-MM-DD
	TokenCount    = "count"    // Value: occurrence count
)

// Token is a locale-agnostic piece of a rule summary. Presentation layers
// translate tokens; Summary renders them in plain English.
type Token struct {
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"`
}

var unitNames = map[Frequency]string{FreqDaily: "day", FreqWeekly: "week", FreqMonthly: "month", FreqYearly: "year"}

// Describe breaks r down into summary tokens.
func Describe(r Rule) []Token {
	if r.freq == FreqNone {
		return []Token{{Kind: TokenNone}}
	}
	toks := []Token{
		{Kind: TokenEvery, Value: strconv.Itoa(r.interval)},
		{Kind: TokenUnit, Value: unitNames[r.freq]},
	}
	switch r.freq {
	case FreqWeekly:
		if len(r.weekdays) > 0 {
			names := make([]string, len(r.weekdays))
			for i, wd := range r.weekdays {
				names[i] = shortWeekday(wd)
			}
			toks = append(toks, Token{Kind: TokenWeekdays, Value: strings.Join(names, ",")})
		}
	case FreqMonthly:
		if r.monthDay != 0 {
			toks = append(toks, Token{Kind: TokenMonthDay, Value: strconv.Itoa(r.monthDay)})
		} else {
			nth := strconv.Itoa(r.monthWeek)
			if r.monthWeek == LastWeek {
				nth = "last"
			}
			toks = append(toks,
				Token{Kind: TokenNth, Value: nth},
				Token{Kind: TokenWeekday, Value: shortWeekday(r.monthWeekday)},
			)
		}
	}
	switch {
	case !r.until.IsZero():
		toks = append(toks, Token{Kind: TokenUntil, Value: r.until.Format(time.DateOnly)})
	case r.count > 0:
		toks = append(toks, Token{Kind: TokenCount, Value: strconv.Itoa(r.count)})
	}
	return toks
}

// Summary renders Describe(r) as English, e.g.
// "every 2 weeks on Mon, Wed until 2025-03-01".
func Summary(r Rule) string {
	toks := Describe(r)
	var b strings.Builder
	var every string
	for _, t := range toks {
		switch t.Kind {
		case TokenNone:
			return "does not repeat"
		case TokenEvery:
			every = t.Value
		case TokenUnit:
			b.WriteString("every ")
			if every == "1" {
				b.WriteString(t.Value)
			} else {
				b.WriteString(every + " " + t.Value + "s")
			}
		case TokenWeekdays:
			b.WriteString(" on " + strings.ReplaceAll(t.Value, ",", ", "))
		case TokenMonthDay:
			b.WriteString(" on day " + t.Value)
		case TokenNth:
			b.WriteString(" on the " + ordinal(t.Value))
		case TokenWeekday:
			b.WriteString(" " + t.Value)
		case TokenUntil:
			b.WriteString(" until " + t.Value)
		case TokenCount:
			if t.Value == "1" {
				b.WriteString(" for 1 occurrence")
			} else {
				b.WriteString(" for " + t.Value + " occurrences")
			}
		}
	}
	return b.String()
}

func shortWeekday(wd time.Weekday) string {
	return wd.String()[:3]
}

func ordinal(nth string) string {
	switch nth {
	case "1":
		return "1st"
	case "2":
		return "2nd"
	case "3":
		return "3rd"
	case "last":
		return "last"
	default:
		return nth + "th"
	}
}
