// Package inistore implements a Data Store backend that reads and writes
// one INI file per data domain. An INI section maps to a top-level key of
// the domain, each section entry to one of that key's nested values; a
// token deeper than section.key is stored under one entry whose key is the
// remaining segments joined with dots, and a non-scalar value is written
// as a JSON-encoded string.
package inistore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/freedm/core/pkg/dataobject"
	"github.com/freedm/core/pkg/fsobserver"
	"github.com/freedm/core/pkg/log"
	"gopkg.in/ini.v1"
)

// Store is an inistore.Store — the file-per-domain Backend implementation
// registered with a *store.Store.
type Store struct {
	path     string
	filetype string
	observer *fsobserver.Observer
}

// New constructs a Store rooted at path, using filetype (without a
// leading dot, e.g. "ini") as the file suffix for each domain.
func New(path, filetype string) (*Store, error) {
	if filetype == "" {
		filetype = "ini"
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("inistore path %q is not an accessible directory", path)
	}
	return &Store{path: path, filetype: strings.TrimPrefix(filetype, ".")}, nil
}

// Domains lists the domain names (file base names, lowercased) currently
// present under the store's path.
func (s *Store) Domains() ([]string, error) {
	entries, err := os.ReadDir(s.path)
	if err != nil {
		return nil, err
	}
	var domains []string
	suffix := "." + s.filetype
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		domains = append(domains, strings.ToLower(strings.TrimSuffix(e.Name(), suffix)))
	}
	return domains, nil
}

// Watch starts observing the store's path for domain file changes,
// settling for settleDelay after a pause before resuming delivery, and
// invoking the supplied callbacks with the affected domain name. onMoved
// receives both the old and new domain name when a rename is observed, so
// a caller can unload the old domain and load the new one.
func (s *Store) Watch(settleDelay time.Duration, onModified, onCreated, onDeleted func(domain string), onMoved func(oldDomain, newDomain string)) error {
	s.observer = fsobserver.New(s.path, []string{s.filetype}, false, settleDelay, func(ev fsobserver.Event) {
		domain := s.domainFromPath(ev.Path)
		switch ev.Kind {
		case fsobserver.Modified:
			if onModified != nil {
				onModified(domain)
			}
		case fsobserver.Created:
			if onCreated != nil {
				onCreated(domain)
			}
		case fsobserver.Deleted:
			if onDeleted != nil {
				onDeleted(domain)
			}
		case fsobserver.Moved:
			if onMoved != nil {
				onMoved(s.domainFromPath(ev.From), domain)
			}
		}
	})
	return s.observer.Start()
}

func (s *Store) domainFromPath(path string) string {
	return strings.ToLower(strings.TrimSuffix(filepath.Base(path), "."+s.filetype))
}

// WithPause runs fn while suppressing the store's own filesystem observer,
// used to avoid reacting to our own writes.
func (s *Store) WithPause(fn func()) {
	if s.observer == nil {
		fn()
		return
	}
	s.observer.WithPause(fn)
}

// Close stops the filesystem observer, if one was started.
func (s *Store) Close() error {
	if s.observer == nil {
		return nil
	}
	return s.observer.Stop()
}

func (s *Store) domainFile(domain string) string {
	return filepath.Join(s.path, domain+"."+s.filetype)
}

// LoadDomain reads domain's INI file and decodes it into a data object
// whose top-level keys are the file's sections. A domain with no backing
// file yet yields an empty object rather than an error.
func (s *Store) LoadDomain(domain string) (*dataobject.Object, error) {
	file := s.domainFile(domain)
	obj := dataobject.New(file)

	cfg, err := ini.LoadSources(ini.LoadOptions{Loose: true, Insensitive: false}, file)
	if err != nil {
		return nil, fmt.Errorf("loading INI domain %q: %w", domain, err)
	}

	data := map[string]any{}
	for _, section := range cfg.Sections() {
		name := section.Name()
		if name == ini.DefaultSection && len(section.Keys()) == 0 {
			continue
		}
		entries := map[string]any{}
		for _, key := range section.Keys() {
			entries[key.Name()] = parseValue(key.Value())
		}
		data[strings.ToLower(name)] = entries
	}
	obj.ReplaceRaw(data)
	return obj, nil
}

// UnloadDomain is a no-op: the INI backend holds no per-domain resources
// beyond the shared directory observer.
func (s *Store) UnloadDomain(domain string, obj *dataobject.Object) error {
	return nil
}

// GetRaw re-reads a single key directly from domain's file.
func (s *Store) GetRaw(domain string, obj *dataobject.Object, key string) (any, error) {
	section, entryKey, err := splitSectionKey(key)
	if err != nil {
		return nil, err
	}

	cfg, err := ini.LoadSources(ini.LoadOptions{Loose: true}, s.domainFile(domain))
	if err != nil {
		return nil, err
	}
	if !cfg.Section(section).HasKey(entryKey) {
		return nil, fmt.Errorf("key %q not present in domain %q", key, domain)
	}
	return parseValue(cfg.Section(section).Key(entryKey).Value()), nil
}

// SetRaw writes a single key's value into domain's INI file, creating the
// file and section if necessary.
func (s *Store) SetRaw(domain string, obj *dataobject.Object, key string, value any) error {
	section, entryKey, err := splitSectionKey(key)
	if err != nil {
		return err
	}

	file := s.domainFile(domain)
	cfg, err := ini.LoadSources(ini.LoadOptions{Loose: true}, file)
	if err != nil {
		return err
	}
	cfg.Section(section).Key(entryKey).SetValue(formatValue(value))

	var writeErr error
	s.WithPause(func() {
		writeErr = cfg.SaveTo(file)
	})
	if writeErr != nil {
		log.WithComponent("inistore").Warn().Err(writeErr).Str("domain", domain).Msg("failed to write INI file")
	}
	return writeErr
}

// splitSectionKey maps a dotted key path onto an INI section and entry
// key: the first segment is the section, the remaining segments (if more
// than one) are joined back with dots to form a single entry key, so that
// a token deeper than two segments still has a stable, reversible mapping
// onto the flat INI format.
func splitSectionKey(key string) (section, entryKey string, err error) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", "", fmt.Errorf("empty INI key path")
	}
	if len(parts) == 1 {
		return ini.DefaultSection, parts[0], nil
	}
	return parts[0], parts[1], nil
}

// parseValue applies the same automatic coercion rules as the original
// configuration reader: integers and floats become numbers, common
// boolean spellings become bool, brace/bracket-delimited values are
// JSON-decoded, and quoted strings are unwrapped.
func parseValue(v string) any {
	if v == "" {
		return v
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	switch strings.ToLower(v) {
	case "1", "yes", "true", "on":
		return true
	case "0", "no", "false", "off":
		return false
	}
	if (strings.HasPrefix(v, "{") && strings.HasSuffix(v, "}")) ||
		(strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]")) {
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			return decoded
		}
	}
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// formatValue renders a value back into an INI entry string, JSON
// encoding anything that isn't a scalar.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int, int64, float64:
		return fmt.Sprint(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
