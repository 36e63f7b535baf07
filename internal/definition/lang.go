package definition

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fclairamb/packfs/internal/apperrors"
	"github.com/fclairamb/packfs/internal/storage"
)

const (
	langComment       = "##"
	langInlineComment = "\t##"
)

// langLine is one line of a .lang file. Lines that are not entries are
// kept verbatim in raw.
type langLine struct {
	key    string
	rawKey string // key as written, surrounding spaces included
	value  string
	suffix string // inline comment, including its leading tab
	raw    string
	entry  bool
}

// Lang manages a translation file: "key=value" lines, "##" comment lines
// and blank lines. Order and comments survive a load and persist.
type Lang struct {
	*Base
	lines   []langLine
	index   map[string]int
	crlf    bool
	newline bool
}

// NewLang creates an unloaded Lang manager for file.
func NewLang(file *storage.File) *Lang {
	l := &Lang{}
	l.Base = NewBase(file, l)
	return l
}

// Decode implements Codec.
func (l *Lang) Decode(data []byte) error {
	l.Reset()
	if len(data) == 0 {
		return nil
	}

	text := string(data)
	l.crlf = strings.Contains(text, "\r\n")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	l.newline = strings.HasSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\n")

	for _, line := range strings.Split(text, "\n") {
		l.lines = append(l.lines, parseLangLine(line))
	}
	l.reindex()
	return nil
}

func parseLangLine(line string) langLine {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, langComment) {
		return langLine{raw: line}
	}

	key, value, ok := strings.Cut(line, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return langLine{raw: line}
	}

	parsed := langLine{key: strings.TrimSpace(key), rawKey: key, value: value, entry: true}
	if i := strings.Index(value, langInlineComment); i >= 0 {
		parsed.value = value[:i]
		parsed.suffix = value[i:]
	}
	return parsed
}

// Encode implements Codec.
func (l *Lang) Encode() ([]byte, error) {
	var buf bytes.Buffer
	eol := "\n"
	if l.crlf {
		eol = "\r\n"
	}

	for i, line := range l.lines {
		if i > 0 {
			buf.WriteString(eol)
		}
		if !line.entry {
			buf.WriteString(line.raw)
			continue
		}
		if line.rawKey != "" {
			buf.WriteString(line.rawKey)
		} else {
			buf.WriteString(line.key)
		}
		buf.WriteByte('=')
		buf.WriteString(line.value)
		buf.WriteString(line.suffix)
	}
	if l.newline && len(l.lines) > 0 {
		buf.WriteString(eol)
	}
	return buf.Bytes(), nil
}

// Reset implements Codec.
func (l *Lang) Reset() {
	l.lines = nil
	l.index = make(map[string]int)
	l.crlf = false
	l.newline = false
}

// reindex maps each key to its last line; the last definition wins.
func (l *Lang) reindex() {
	l.index = make(map[string]int, len(l.lines))
	for i, line := range l.lines {
		if line.entry {
			l.index[line.key] = i
		}
	}
}

// Get returns the value for key.
func (l *Lang) Get(key string) (string, bool) {
	var (
		value string
		found bool
	)
	_ = l.read(func() {
		if i, ok := l.index[key]; ok {
			value, found = l.lines[i].value, true
		}
	})
	return value, found
}

// Set changes the value for key, appending a new entry when it is missing.
// Values cannot span lines.
func (l *Lang) Set(key, value string) error {
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("%s: %w", key, apperrors.ErrInvalidLangValue)
	}
	key = strings.TrimSpace(key)
	return l.read(func() {
		if i, ok := l.index[key]; ok {
			l.lines[i].value = value
			return
		}
		l.lines = append(l.lines, langLine{key: key, value: value, entry: true})
		l.index[key] = len(l.lines) - 1
		l.newline = true
	})
}

// Delete removes every entry for key.
func (l *Lang) Delete(key string) error {
	return l.read(func() {
		if _, ok := l.index[key]; !ok {
			return
		}
		kept := l.lines[:0]
		for _, line := range l.lines {
			if line.entry && line.key == key {
				continue
			}
			kept = append(kept, line)
		}
		l.lines = kept
		l.reindex()
	})
}

// Keys returns the entry keys in file order, without duplicates.
func (l *Lang) Keys() []string {
	var keys []string
	_ = l.read(func() {
		for i, line := range l.lines {
			if line.entry && l.index[line.key] == i {
				keys = append(keys, line.key)
			}
		}
	})
	return keys
}
