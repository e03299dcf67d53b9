// Package company implements the resolve-or-create half of the
// Per-Item Pipeline (spec §4.J step 1): look a company up by slug,
// call the enrichment adapter on a miss, and persist the result
// through the document-store's field-level merge so concurrent
// pipelines never clobber a populated field with an empty one.
package company

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jdubz/job-finder/internal/docstore"
	"github.com/jdubz/job-finder/internal/urlnorm"
)

// Collection is keyed by slug (spec §6 "companies: keyed by slug").
const Collection = "job_finder_companies"

// AnalysisStatus tracks whether enrichment completed (spec §4.J step 1).
type AnalysisStatus string

const (
	AnalysisPending  AnalysisStatus = "PENDING"
	AnalysisComplete AnalysisStatus = "COMPLETE"
	AnalysisFailed   AnalysisStatus = "FAILED"
)

// Facts is the shape returned by the enrichment adapter.
type Facts struct {
	About   string   `json:"about"`
	Culture string   `json:"culture"`
	Size    string   `json:"size"`
	HQ      string   `json:"hq"`
	Tags    []string `json:"tags,omitempty"`
}

// Record is a company document (spec §3 "Company Record" is implicit
// in the data model; shaped here from the enrichment adapter's output
// plus bookkeeping fields).
type Record struct {
	ID             uuid.UUID      `json:"id"`
	Slug           string         `json:"slug"`
	Name           string         `json:"name"`
	Website        string         `json:"website"`
	Facts          Facts          `json:"facts"`
	AnalysisStatus AnalysisStatus `json:"analysisStatus"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// EnrichmentAdapter is the external company enrichment contract (spec
// §6): enrich(name, website) -> CompanyFacts.
type EnrichmentAdapter interface {
	Enrich(ctx context.Context, name, website string) (Facts, error)
}

// Resolver implements resolve-or-create over the companies collection.
type Resolver struct {
	gw        docstore.Gateway
	enrich    EnrichmentAdapter
	analysisT time.Duration
}

// NewResolver constructs a Resolver. analysisTimeout bounds the
// enrichment call (spec §4.J step 1 default 300s).
func NewResolver(gw docstore.Gateway, enrich EnrichmentAdapter, analysisTimeout time.Duration) *Resolver {
	if analysisTimeout <= 0 {
		analysisTimeout = 300 * time.Second
	}
	return &Resolver{gw: gw, enrich: enrich, analysisT: analysisTimeout}
}

// ResolveOrCreate looks up a company by Slugify(name, website); on a miss it calls
// the enrichment adapter bounded by analysis_timeout and persists the
// result with a field-level merge. A timeout or adapter error still
// returns a company record (AnalysisFailed, minimal data) rather than
// failing the caller, per spec §4.J step 1 "proceed with minimal data
// on timeout".
func (r *Resolver) ResolveOrCreate(ctx context.Context, name, website string) (Record, error) {
	slug := Slugify(name, website)
	if slug == "" {
		return Record{}, fmt.Errorf("company: empty slug for name %q", name)
	}

	if doc, err := r.gw.Get(ctx, Collection, slug); err == nil {
		var rec Record
		if err := json.Unmarshal(doc, &rec); err != nil {
			return Record{}, fmt.Errorf("company: decode %s: %w", slug, err)
		}
		return rec, nil
	} else if !docstore.IsNotFound(err) {
		return Record{}, fmt.Errorf("company: lookup %s: %w", slug, err)
	}

	rec := Record{
		ID:      uuid.New(),
		Slug:    slug,
		Name:    name,
		Website: website,
	}

	enrichCtx, cancel := context.WithTimeout(ctx, r.analysisT)
	defer cancel()

	facts, err := r.enrich.Enrich(enrichCtx, name, website)
	if err != nil {
		rec.AnalysisStatus = AnalysisFailed
	} else {
		rec.Facts = facts
		rec.AnalysisStatus = AnalysisComplete
	}
	rec.UpdatedAt = time.Now().UTC()

	if err := r.persist(ctx, slug, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// persist writes rec through Update's merge rule so a concurrent
// writer's non-empty fields are never overwritten with this write's
// empty ones (spec §3 "field-level merge rule").
func (r *Resolver) persist(ctx context.Context, slug string, rec Record) error {
	return r.gw.Update(ctx, Collection, slug, func(current json.RawMessage) (json.RawMessage, error) {
		if current == nil {
			return json.Marshal(rec)
		}
		var existing Record
		if err := json.Unmarshal(current, &existing); err != nil {
			return json.Marshal(rec)
		}
		merged := mergeRecord(existing, rec)
		return json.Marshal(merged)
	})
}

// mergeRecord implements "never overwrite non-empty fields with
// empty" field by field.
func mergeRecord(existing, incoming Record) Record {
	out := existing
	if incoming.Name != "" {
		out.Name = incoming.Name
	}
	if incoming.Website != "" {
		out.Website = incoming.Website
	}
	if incoming.Facts.About != "" {
		out.Facts.About = incoming.Facts.About
	}
	if incoming.Facts.Culture != "" {
		out.Facts.Culture = incoming.Facts.Culture
	}
	if incoming.Facts.Size != "" {
		out.Facts.Size = incoming.Facts.Size
	}
	if incoming.Facts.HQ != "" {
		out.Facts.HQ = incoming.Facts.HQ
	}
	if len(incoming.Facts.Tags) > 0 {
		out.Facts.Tags = incoming.Facts.Tags
	}
	if incoming.AnalysisStatus != "" {
		out.AnalysisStatus = incoming.AnalysisStatus
	}
	out.UpdatedAt = incoming.UpdatedAt
	return out
}

var slugNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify keys the company record by name plus the normalized website
// host (spec §3 "keyed by a slug derived from the name plus normalized
// website host"), so two companies sharing a name but not a website
// never collide on the same document. website may be empty, in which
// case the slug falls back to the name alone.
func Slugify(name, website string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	base := strings.Trim(slugNonAlnum.ReplaceAllString(lower, "-"), "-")

	host := urlnorm.Host(website)
	if host == "" {
		return base
	}
	hostSlug := strings.Trim(slugNonAlnum.ReplaceAllString(host, "-"), "-")
	if base == "" || hostSlug == "" {
		return firstNonEmpty(base, hostSlug)
	}
	return base + "-" + hostSlug
}

func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}
