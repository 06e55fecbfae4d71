package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/iambrandonn/coderloop/internal/oracle"
	"github.com/iambrandonn/coderloop/internal/project"
	"github.com/iambrandonn/coderloop/internal/prober"
)

const architectPosition = "Solutions Architect"

// Architect scopes the project and, when external data is needed, picks
// the public URLs the backend may call. URLs that do not answer 200 within
// the probe timeout are dropped.
type Architect struct {
	base
	probeTimeout time.Duration
}

func NewArchitect(deps Deps, probeTimeout time.Duration) *Architect {
	return &Architect{
		base: base{
			attrs: Attributes{
				Objective: "Gathers information and designs solutions for website development",
				Position:  architectPosition,
				Status:    StatusDiscovery,
			},
			deps: deps.withDefaults(),
		},
		probeTimeout: probeTimeout,
	}
}

func (a *Architect) Execute(ctx context.Context, p *project.Project) error {
	for a.attrs.Status != StatusFinished {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch a.attrs.Status {
		case StatusDiscovery:
			if err := a.determineScope(ctx, p); err != nil {
				return err
			}
		case StatusValidating:
			a.filterExternalURLs(ctx, p)
			a.setStatus(StatusFinished)
		default:
			return fmt.Errorf("architect: unexpected status %q", a.attrs.Status)
		}
	}
	return nil
}

func (a *Architect) determineScope(ctx context.Context, p *project.Project) error {
	a.deps.Narrator.Generation(a.attrs.Position, "Defining project scope")
	scope, err := oracle.Decode[project.Scope](ctx, a.deps.Oracle,
		a.task(oracle.KindPrintProjectScope, "Defining project scope", p.Description))
	if err != nil {
		return fmt.Errorf("failed to determine project scope: %w", err)
	}
	p.Scope = &scope
	a.deps.Logger.Info("project scope",
		"crud", scope.IsCRUDRequired,
		"auth", scope.IsUserLoginAndLogoutRequired,
		"external_urls", scope.IsExternalURLsRequired)

	if !scope.IsExternalURLsRequired {
		a.setStatus(StatusFinished)
		return nil
	}

	a.deps.Narrator.Generation(a.attrs.Position, "Finding external data sources")
	urls, err := oracle.Decode[[]string](ctx, a.deps.Oracle,
		a.task(oracle.KindPrintSiteURLs, "Finding external data sources", p.Description))
	if err != nil {
		return fmt.Errorf("failed to determine external urls: %w", err)
	}
	p.ExternalURLs = urls
	a.setStatus(StatusValidating)
	return nil
}

func (a *Architect) filterExternalURLs(ctx context.Context, p *project.Project) {
	client := prober.NewClient(a.probeTimeout)
	live := make([]string, 0, len(p.ExternalURLs))

	for _, url := range p.ExternalURLs {
		a.deps.Narrator.Validation(a.attrs.Position, fmt.Sprintf("Testing URL endpoint: %s", url))
		r := prober.Check(ctx, client, url)
		a.deps.Recorder.Record("probe.external", map[string]any{
			"url":    url,
			"status": r.Status,
			"ok":     r.OK(),
		})

		switch {
		case r.Err != nil:
			a.deps.Logger.Warn("external url unreachable", "url", url, "error", r.Err)
		case !r.OK():
			a.deps.Logger.Warn("external url excluded", "url", url, "status", r.Status)
		default:
			live = append(live, url)
			continue
		}
		a.deps.Narrator.Issue(a.attrs.Position, fmt.Sprintf("Excluding URL endpoint: %s", url))
	}

	p.ExternalURLs = live
}
