package capabilities

import (
	"log/slog"
	"net/http"

	"github.com/podly-labs/podflow"
	"github.com/podly-labs/podflow/llmprovider"
	"github.com/podly-labs/podflow/media"
	"github.com/podly-labs/podflow/store"
)

// Deps are the external collaborators the built-in capabilities wrap.
// Registry composition happens once at startup; nothing here is consulted
// ambiently afterwards.
type Deps struct {
	LLM          llmprovider.Client
	DefaultModel string
	Tavily       *TavilyClient

	// Synthesizers maps backend names to speech synthesizers; TTSBackend
	// names the one used when a render job does not pick its own.
	Synthesizers map[string]Synthesizer
	TTSBackend   string

	Media      *media.Engine
	Store      store.ObjectStore
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Register adds every built-in capability whose collaborator is present.
// Missing collaborators simply leave their capabilities unregistered, so a
// script-only deployment need not configure audio tooling and vice versa.
func Register(reg *podflow.Registry, deps Deps) error {
	var defs []podflow.Definition

	if deps.LLM != nil {
		defs = append(defs, LLMComplete(deps.LLM, deps.DefaultModel))
	}
	if deps.Tavily != nil {
		defs = append(defs, WebSearch(deps.Tavily), WebExtract(deps.Tavily))
	}
	defs = append(defs,
		RSSFetch(deps.Logger),
		ArticleExtract(deps.HTTPClient, deps.Logger),
	)
	if len(deps.Synthesizers) > 0 {
		defs = append(defs, TTSSynthesize(deps.Synthesizers, deps.TTSBackend))
	}
	if deps.Media != nil {
		defs = append(defs,
			WriteFile(),
			AudioConcat(deps.Media),
			AudioMixBGM(deps.Media),
			AudioSegment(deps.Media),
		)
	}
	if deps.Store != nil {
		defs = append(defs,
			StoreUpload(deps.Store),
			StoreDownloadAsset(deps.Store),
		)
	}

	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}
