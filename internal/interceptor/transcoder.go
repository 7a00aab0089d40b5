package interceptor

import (
	"github.com/osus-project/osus-proxy/internal/preferences"
	"github.com/osus-project/osus-proxy/internal/protocol"
)

// Result is a transcoded body plus packet counts for exchange stats.
type Result struct {
	Body       []byte
	PacketsIn  int
	PacketsOut int
}

// Transcoder turns one HTTP body into a rewritten one.
type Transcoder struct {
	parser   *protocol.StreamParser
	pipeline *Pipeline
	store    *preferences.Store
}

// NewTranscoder creates a transcoder bound to store.
func NewTranscoder(pipeline *Pipeline, store *preferences.Store) *Transcoder {
	return &Transcoder{
		parser:   protocol.NewStreamParser(),
		pipeline: pipeline,
		store:    store,
	}
}

// Transcode decodes body, runs the pipeline and re-encodes. The Preferences
// lock is held for the whole pass so concurrent bodies are mutated one at a
// time. A decode error fails the whole body and leaves Preferences as it was.
func (t *Transcoder) Transcode(body []byte, dir Direction, backend string) (Result, error) {
	var res Result
	err := t.store.With(func(p *preferences.Preferences) error {
		packets, err := t.parser.Decode(body)
		if err != nil {
			return err
		}
		res.PacketsIn = len(packets)

		packets = t.pipeline.Process(packets, p, dir, backend)
		res.PacketsOut = len(packets)
		res.Body = t.parser.Encode(packets)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}
