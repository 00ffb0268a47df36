// Package locale loads the YAML text bundle and provides the placeholder
// formatting used by every user-facing message.
package locale

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed ru.yml
var ruYAML []byte

// Bundle is a loaded locale tree. Lookups walk nested mappings by key.
type Bundle struct {
	root map[string]any
}

// Load parses the embedded bundle.
func Load() (*Bundle, error) {
	var root map[string]any
	if err := yaml.Unmarshal(ruYAML, &root); err != nil {
		return nil, fmt.Errorf("locale: parse bundle: %w", err)
	}
	return &Bundle{root: root}, nil
}

// Get returns the string at the given path, or the joined path itself when
// the key is missing so a broken lookup stays visible in the chat.
func (b *Bundle) Get(path ...string) string {
	node := any(b.root)
	for _, p := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return strings.Join(path, ".")
		}
		node = m[p]
	}
	s, ok := node.(string)
	if !ok {
		return strings.Join(path, ".")
	}
	return s
}

// List returns the string sequence at the given path.
func (b *Bundle) List(path ...string) []string {
	node := any(b.root)
	for _, p := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[p]
	}
	seq, ok := node.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(seq))
	for _, v := range seq {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Props carries named placeholder values for Format.
type Props map[string]string

// Format expands {} placeholders positionally, {N} by index and {name} from
// a Props argument.
func Format(s string, params ...any) string {
	var args []string
	props := Props{}
	for _, p := range params {
		switch v := p.(type) {
		case Props:
			for k, val := range v {
				props[k] = val
			}
		case string:
			args = append(args, v)
		default:
			args = append(args, fmt.Sprint(v))
		}
	}

	var sb strings.Builder
	next := 0
	for {
		open := strings.IndexByte(s, '{')
		if open < 0 {
			sb.WriteString(s)
			break
		}
		end := strings.IndexByte(s[open:], '}')
		if end < 0 {
			sb.WriteString(s)
			break
		}
		sb.WriteString(s[:open])
		name := s[open+1 : open+end]
		switch {
		case name == "":
			if next < len(args) {
				sb.WriteString(args[next])
			}
			next++
		default:
			if i, err := strconv.Atoi(name); err == nil {
				if i < len(args) {
					sb.WriteString(args[i])
				}
			} else {
				sb.WriteString(props[name])
			}
		}
		s = s[open+end+1:]
	}
	return sb.String()
}

var markdownV2Replacer = strings.NewReplacer(
	"_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]",
	"(", "\\(", ")", "\\)", "~", "\\~", "`", "\\`",
	">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-",
	"=", "\\=", "|", "\\|", "{", "\\{", "}", "\\}",
	".", "\\.", "!", "\\!",
)

// EscapeMarkdownV2 escapes the characters Telegram's MarkdownV2 mode treats
// as markup.
func EscapeMarkdownV2(s string) string {
	return markdownV2Replacer.Replace(s)
}
