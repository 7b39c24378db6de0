package integrations

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-steplog/types"
)

// LogListener mirrors events to a logger at debug level
type LogListener struct {
	log log.Logger
}

func NewLogListener(logger log.Logger) *LogListener {
	if logger == nil {
		logger = log.Root()
	}
	return &LogListener{log: logger}
}

func (l *LogListener) OnStep(title, expected string) func(err error) {
	l.log.Debug("Step started", "title", title, "expected", expected)
	return func(err error) {
		if err != nil {
			l.log.Debug("Step failed", "title", title, "err", err)
			return
		}
		l.log.Debug("Step finished", "title", title)
	}
}

func (l *LogListener) OnDescription(text string) {
	l.log.Debug("Description", "text", text)
}

func (l *LogListener) OnInfo(key string, value types.Value) {
	l.log.Debug("Info", "key", key, "value", value.String())
}

func (l *LogListener) OnLink(url, name string) {
	l.log.Debug("Link", "name", name, "url", url)
}

func (l *LogListener) OnKnownBug(description, url string) {
	l.log.Debug("Known bug", "description", description, "url", url)
}

func (l *LogListener) OnAttach(content []byte, name, mimeType string) {
	l.log.Debug("Attachment", "name", name, "type", mimeType, "size", len(content))
}

var _ Listener = (*LogListener)(nil)
