package agent

import (
	"context"
	"errors"

	"github.com/osvaldoandrade/uicase/internal/browser"
)

// rung is one way of constructing an agent. probe decides from the library's
// declared capabilities whether the rung applies. A build error, or a library
// answering ErrUnsupported, moves construction to the next rung.
type rung struct {
	name  string
	probe func(caps Capability, cfg Config, opts Options) bool
	build func(ctx context.Context, cfg Config, headless bool, opts Options) (Options, func(), error)
}

var syncLadder = []rung{
	{
		name: "session",
		probe: func(caps Capability, cfg Config, _ Options) bool {
			return cfg.CDPURL != "" && caps.Has(CapBrowserSession)
		},
		build: func(ctx context.Context, cfg Config, _ bool, opts Options) (Options, func(), error) {
			h, err := browser.Connect(ctx, cfg.CDPURL)
			if err != nil {
				return opts, nil, err
			}
			opts.Session = h
			return opts, h.Close, nil
		},
	},
	{
		name:  "browser",
		probe: func(caps Capability, _ Config, _ Options) bool { return caps.Has(CapBrowser) },
		build: func(ctx context.Context, _ Config, headless bool, opts Options) (Options, func(), error) {
			h := browser.Launch(ctx, headless)
			opts.Browser = h
			return opts, h.Close, nil
		},
	},
	{
		name:  "model",
		probe: func(caps Capability, _ Config, opts Options) bool { return caps.Has(CapModel) && opts.Model != "" },
		build: func(_ context.Context, _ Config, _ bool, opts Options) (Options, func(), error) {
			return opts, nil, nil
		},
	},
	{
		name:  "minimal",
		probe: func(Capability, Config, Options) bool { return true },
		build: func(_ context.Context, _ Config, _ bool, opts Options) (Options, func(), error) {
			return Options{Task: opts.Task, Metadata: opts.Metadata}, nil, nil
		},
	},
}

// construct walks the ladder top down and returns the first agent the library
// accepts, the rung that produced it, and a cleanup for any browser handle.
func construct(ctx context.Context, lib Library, cfg Config, headless bool, base Options) (Agent, string, func(), error) {
	caps := lib.Capabilities()
	if !caps.Has(CapModel) {
		base.Model = ""
	}
	for _, r := range syncLadder {
		if !r.probe(caps, cfg, base) {
			continue
		}
		opts, cleanup, err := r.build(ctx, cfg, headless, base)
		if err != nil {
			// An unreachable or malformed endpoint only rules out this rung.
			continue
		}
		ag, err := lib.NewAgent(ctx, opts)
		if errors.Is(err, ErrUnsupported) {
			if cleanup != nil {
				cleanup()
			}
			continue
		}
		if err != nil {
			if cleanup != nil {
				cleanup()
			}
			return nil, r.name, nil, err
		}
		if cleanup == nil {
			cleanup = func() {}
		}
		return ag, r.name, cleanup, nil
	}
	return nil, "", nil, ErrUnsupported
}
