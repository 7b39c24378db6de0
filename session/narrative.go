package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-steplog/metrics"
	"github.com/ethereum-optimism/infra/op-steplog/store"
	"github.com/ethereum-optimism/infra/op-steplog/types"
)

// names of captured output, kept out of integrations
var outputNames = map[string]bool{"stdout": true, "stderr": true, "log": true}

// NormalizeKey turns an info or link key into its display form
func NormalizeKey(k string) string {
	return strings.ToUpper(strings.ReplaceAll(k, "_", " "))
}

func cleanError(msg string) string {
	msg, _, _ = strings.Cut(msg, "Stacktrace")
	return strings.TrimSpace(stripansi.Strip(msg))
}

func jsonIndent(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Description appends text to the test description
func (s *Session) Description(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		s.log.Warn("Description outside of a test", "text", text)
		return
	}
	if text == "" {
		return
	}
	s.record.AddDescription(text)
}

// Info adds key/value notes to the current step and the test. Keys are
// upper-cased with underscores turned into spaces. Values that cannot be
// stored are skipped with a warning.
func (s *Session) Info(kv map[string]any) {
	if len(kv) == 0 {
		s.log.Warn("Info requires at least one key")
		return
	}
	info := make(types.Info, len(kv))
	var forwarded []string
	for _, k := range sortedKeys(kv) {
		v, err := types.ValueOf(kv[k])
		if err != nil {
			s.log.Warn("Skipping info value", "key", k, "err", err)
			continue
		}
		info[NormalizeKey(k)] = v
		forwarded = append(forwarded, k)
	}
	if len(info) == 0 {
		return
	}

	s.mu.Lock()
	if cur := s.tracker.Current(); cur != nil {
		cur.AddInfo(info)
	}
	if s.record != nil {
		s.record.AddInfo(info)
	} else {
		s.log.Warn("Info outside of a test")
	}
	s.mu.Unlock()

	for _, k := range forwarded {
		s.listeners.OnInfo(k, info[NormalizeKey(k)])
	}
}

// Link adds named URLs to the current step and the test
func (s *Session) Link(links map[string]string) {
	if len(links) == 0 {
		s.log.Warn("Link requires at least one key")
		return
	}
	s.mu.Lock()
	cur := s.tracker.Current()
	for _, k := range sortedKeys(links) {
		name := NormalizeKey(k)
		if cur != nil {
			cur.AddLink(name, links[k])
		}
		if s.record != nil {
			s.record.AddLink(name, links[k])
		}
	}
	s.mu.Unlock()

	for _, k := range sortedKeys(links) {
		s.listeners.OnLink(links[k], NormalizeKey(k))
	}
}

// KnownBug marks the current step and the test with a known defect. At least
// one of url and description is required.
func (s *Session) KnownBug(url, description string) {
	if url == "" && description == "" {
		s.log.Warn("Known bug requires a url or a description")
		return
	}
	bug := types.KnownBug{URL: url, Description: description}
	s.mu.Lock()
	if cur := s.tracker.Current(); cur != nil {
		cur.AddKnownBug(bug)
	}
	if s.record != nil {
		s.record.AddKnownBug(bug)
	}
	s.mu.Unlock()
	s.listeners.OnKnownBug(description, url)
}

// Print records a message in place among the steps. Maps and slices are
// stored as JSON.
func (s *Session) Print(msg any) {
	text, mimeType := fmt.Sprint(msg), "text/plain"
	if isStructured(msg) {
		data, err := jsonIndent(msg)
		if err != nil {
			s.log.Warn("Unable to encode print message", "err", err)
		} else {
			text, mimeType = string(data), "application/json"
		}
	}
	p := types.NewPrint(text, mimeType)

	s.mu.Lock()
	s.tracker.Print(p)
	s.mu.Unlock()

	s.log.Info(text)
	s.listeners.OnAttach([]byte(text), p.ID, mimeType)
}

func isStructured(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		_, isBytes := v.([]byte)
		return !isBytes
	}
	return false
}

func isStruct(v any) bool {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

// Attach stores content as an attachment of the current step and the test.
// Supported content is []byte, string, store.FilePath, io.Reader, maps and
// slices (stored as JSON) and scalars (stored as text). Anything else, and
// empty strings, are skipped with a warning.
func (s *Session) Attach(content any, name string) {
	data, name, err := attachmentData(content, name)
	if err != nil {
		s.log.Warn("Skipping attachment", "name", name, "err", err)
		metrics.RecordErrorDetails("attach", err)
		return
	}
	a, err := s.store.WriteAttachment(data, name)
	if err != nil {
		s.log.Warn("Unable to write attachment", "name", name, "err", err)
		metrics.RecordErrorDetails("attach", err)
		return
	}

	s.mu.Lock()
	if cur := s.tracker.Current(); cur != nil {
		cur.AddAttachment(a)
	}
	if s.record != nil {
		s.record.AddAttachment(a)
	}
	s.mu.Unlock()

	if !outputNames[name] {
		s.listeners.OnAttach(data, a.Name, a.MimeType)
	}
}

func attachmentData(content any, name string) ([]byte, string, error) {
	switch c := content.(type) {
	case nil:
		return nil, name, fmt.Errorf("nothing to attach")
	case []byte:
		if len(c) == 0 {
			return nil, name, fmt.Errorf("empty content")
		}
		return c, name, nil
	case string:
		if c == "" {
			return nil, name, fmt.Errorf("empty string")
		}
		return []byte(c), name, nil
	case store.FilePath:
		data, err := store.ReadFile(c)
		if err != nil {
			return nil, name, err
		}
		if name == "" {
			name = filepath.Base(string(c))
		}
		return data, name, nil
	case io.Reader:
		data, err := io.ReadAll(c)
		if err != nil {
			return nil, name, fmt.Errorf("failed to read content: %w", err)
		}
		if len(data) == 0 {
			return nil, name, fmt.Errorf("empty content")
		}
		return data, name, nil
	}

	if v, err := types.ValueOf(content); err == nil && v.Kind() != types.KindMap && v.Kind() != types.KindList {
		return []byte(v.String()), name, nil
	}
	if !isStructured(content) && !isStruct(content) {
		return nil, name, fmt.Errorf("unsupported content type %T", content)
	}
	data, err := jsonIndent(content)
	if err != nil {
		return nil, name, fmt.Errorf("failed to encode content: %w", err)
	}
	if name == "" {
		name = "attachment"
	}
	if filepath.Ext(name) == "" {
		name += ".json"
	}
	return data, name, nil
}

// Screenshot captures the registered browser and attaches the images as
// scr_<name>.png, or err_scr_<name>.png for error screenshots. The test name
// is used when name is empty. Capture problems are logged, never returned.
func (s *Session) Screenshot(name string, isError bool) {
	s.mu.Lock()
	if s.browser == nil {
		s.mu.Unlock()
		return
	}
	if name == "" && s.record != nil {
		name = s.record.Name
	}
	images, err := s.capture()
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("Unable to make screenshot", "err", err)
		metrics.RecordErrorDetails("screenshot", err)
		return
	}

	file := "scr_" + name + ".png"
	if isError {
		file = "err_" + file
	}
	for _, img := range images {
		if len(img) == 0 {
			continue
		}
		s.Attach(img, file)
		metrics.RecordScreenshot()
	}
}

// capture resolves and calls the registered browser. Callers hold s.mu.
func (s *Session) capture() (images [][]byte, err error) {
	shooter, err := s.browsers.Resolve(s.browser)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("screenshot panicked: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ScreenshotTimeout)
	defer cancel()
	return shooter.Screenshot(ctx)
}
