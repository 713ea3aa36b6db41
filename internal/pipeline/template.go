package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"
)

var placeholderRe = regexp.MustCompile(`\{(@?[a-z][a-z0-9_]*)\}`)

// Vars are the non-path template variables of a run.
type Vars struct {
	Scalars map[string]string
	Lists   map[string][]string
}

// Bindings supply every value a template may reference.
type Bindings struct {
	// Paths maps artifact kinds plus "input" and "output" to file paths.
	Paths map[string]string
	Vars  Vars
	// Tool resolves the template's first word to an executable path. Nil leaves it as written.
	Tool func(name string) string
}

// Render splits tmpl shell-style and substitutes placeholders word by word.
// A word that is exactly {@name} expands to the list variable name.
func Render(tmpl string, b Bindings) ([]string, error) {
	words, err := shellquote.Split(tmpl)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: empty template", ErrInvalidDefinition)
	}

	argv := make([]string, 0, len(words))
	for i, w := range words {
		if strings.HasPrefix(w, "{@") && strings.HasSuffix(w, "}") && strings.Count(w, "{") == 1 {
			name := w[2 : len(w)-1]
			list, ok := b.Vars.Lists[name]
			if !ok {
				return nil, fmt.Errorf("%w: {@%s}", ErrUnknownPlaceholder, name)
			}
			argv = append(argv, list...)
			continue
		}

		out, err := substitute(w, b)
		if err != nil {
			return nil, err
		}
		if i == 0 && b.Tool != nil {
			out = b.Tool(out)
		}
		argv = append(argv, out)
	}
	return argv, nil
}

func substitute(word string, b Bindings) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(word, func(m string) string {
		name := m[1 : len(m)-1]
		if strings.HasPrefix(name, "@") {
			missing = m
			return m
		}
		if v, ok := b.Paths[name]; ok {
			return v
		}
		if v, ok := b.Vars.Scalars[name]; ok {
			return v
		}
		if missing == "" {
			missing = m
		}
		return m
	})
	if missing != "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownPlaceholder, missing)
	}
	return out, nil
}
