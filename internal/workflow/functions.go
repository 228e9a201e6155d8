package workflow

import (
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	randomLength = 10
	letters      = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	alnum        = letters + "0123456789"
)

var datePattern = regexp.MustCompile(`^date\((.+?)(?:\s*([-+])\s*(\d+)\s*([yMwdhms]))?\)$`)

// patternLetters are the date pattern letters dateLayout understands.
const patternLetters = "yMdEHhmsSaZ"

// dateLayout translates a date pattern such as yyyy-MM-dd or d/M/yy h:mm a
// into a Go reference layout. Runs of one pattern letter form a token and
// text inside single quotes is literal. An a touching a letter that is not a
// pattern letter is literal too.
func dateLayout(pattern string) string {
	var b strings.Builder

	for i := 0; i < len(pattern); {
		c := pattern[i]

		if c == '\'' {
			end := strings.IndexByte(pattern[i+1:], '\'')
			switch {
			case end < 0:
				b.WriteString(pattern[i+1:])
				return b.String()
			case end == 0:
				b.WriteByte('\'')
			default:
				b.WriteString(pattern[i+1 : i+1+end])
			}

			i += end + 2

			continue
		}

		j := i
		for j < len(pattern) && pattern[j] == c {
			j++
		}

		if c == 'a' && (isLiteralLetter(pattern, i-1) || isLiteralLetter(pattern, j)) {
			b.WriteString(pattern[i:j])
		} else {
			b.WriteString(dateToken(c, j-i, pattern[i:j]))
		}

		i = j
	}

	return b.String()
}

func isLiteralLetter(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}

	c := s[i]

	return (c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') && !strings.ContainsRune(patternLetters, rune(c))
}

func dateToken(c byte, n int, run string) string {
	switch c {
	case 'y':
		if n == 2 {
			return "06"
		}

		return "2006"
	case 'M':
		switch n {
		case 1:
			return "1"
		case 2:
			return "01"
		case 3:
			return "Jan"
		default:
			return "January"
		}
	case 'd':
		if n == 1 {
			return "2"
		}

		return "02"
	case 'E':
		if n < 4 {
			return "Mon"
		}

		return "Monday"
	case 'H':
		return "15"
	case 'h':
		if n == 1 {
			return "3"
		}

		return "03"
	case 'm':
		if n == 1 {
			return "4"
		}

		return "04"
	case 's':
		if n == 1 {
			return "5"
		}

		return "05"
	case 'S':
		return strings.Repeat("0", n)
	case 'a':
		return "PM"
	case 'Z':
		return "-0700"
	default:
		return run
	}
}

// Generator produces values for the #function workflow sources.
type Generator struct {
	mu   sync.Mutex
	rand *rand.Rand
	now  func() time.Time
}

// NewGenerator creates a generator seeded from the runtime.
func NewGenerator() *Generator {
	return NewGeneratorWith(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), time.Now) //nolint:gosec // test data, not secrets
}

// NewGeneratorWith creates a generator with a fixed source and clock.
func NewGeneratorWith(r *rand.Rand, now func() time.Time) *Generator {
	return &Generator{rand: r, now: now}
}

// Generate evaluates fn, one of alpha, alphanum, number, -number, +number,
// boolean, float, date(format) or date(format +|- N unit). ok is false for
// anything else.
func (g *Generator) Generate(fn string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch fn = strings.TrimSpace(fn); fn {
	case "alpha":
		return g.pick(letters), true
	case "alphanum":
		return g.pick(alnum), true
	case "number":
		return strconv.FormatInt(g.rand.Int64N(1<<31), 10), true
	case "+number":
		return strconv.FormatInt(g.rand.Int64N(1<<31)+1, 10), true
	case "-number":
		return strconv.FormatInt(-(g.rand.Int64N(1<<31) + 1), 10), true
	case "boolean":
		return strconv.FormatBool(g.rand.IntN(2) == 1), true
	case "float":
		return strconv.FormatFloat(g.rand.Float64()*1000, 'f', 4, 64), true
	}

	return g.date(fn)
}

func (g *Generator) pick(alphabet string) string {
	b := make([]byte, randomLength)
	for i := range b {
		b[i] = alphabet[g.rand.IntN(len(alphabet))]
	}

	return string(b)
}

func (g *Generator) date(fn string) (string, bool) {
	m := datePattern.FindStringSubmatch(fn)
	if m == nil {
		return "", false
	}

	t := g.now()

	if m[2] != "" {
		n, err := strconv.Atoi(m[3])
		if err != nil {
			return "", false
		}

		if m[2] == "-" {
			n = -n
		}

		t = shift(t, n, m[4])
	}

	return t.Format(dateLayout(strings.TrimSpace(m[1]))), true
}

func shift(t time.Time, n int, unit string) time.Time {
	switch unit {
	case "y":
		return t.AddDate(n, 0, 0)
	case "M":
		return t.AddDate(0, n, 0)
	case "w":
		return t.AddDate(0, 0, 7*n)
	case "d":
		return t.AddDate(0, 0, n)
	case "h":
		return t.Add(time.Duration(n) * time.Hour)
	case "m":
		return t.Add(time.Duration(n) * time.Minute)
	default:
		return t.Add(time.Duration(n) * time.Second)
	}
}
