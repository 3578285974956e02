package ingest

import (
	"strings"

	"github.com/Lllllllleong/manifestflow/internal/models"
)

// IngestedFile is the outcome of one file. SRN is empty when no record was identified.
// Record is set as soon as a record produced for the file exists, even when a later
// step failed, so the run can compensate it.
type IngestedFile struct {
	AssociativeID string
	SRN           string
	Record        *models.Record
	Success       bool
	Summary       string
}

// IngestedComponent is the outcome of one work product component and its files.
type IngestedComponent struct {
	AssociativeID string
	SRN           string
	Record        *models.Record
	Success       bool
	Summaries     []string
	Files         []IngestedFile
}

// Summary joins the summaries, one per line.
func (c IngestedComponent) Summary() string {
	return strings.Join(c.Summaries, "\n")
}

// IngestedProduct is the outcome of a whole manifest.
type IngestedProduct struct {
	SRN        string
	Record     *models.Record
	Success    bool
	Summaries  []string
	Components []IngestedComponent
}

func (p IngestedProduct) Summary() string {
	return strings.Join(p.Summaries, "\n")
}

// SRNs lists every SRN identified during the run: the product first, then each
// component followed by its files.
func (p IngestedProduct) SRNs() []string {
	var out []string
	add := func(s string) {
		if s != "" {
			out = append(out, s)
		}
	}
	add(p.SRN)
	for _, c := range p.Components {
		add(c.SRN)
		for _, f := range c.Files {
			add(f.SRN)
		}
	}
	return out
}

// Records lists every record created during the run, once per record id, in the same
// order as SRNs.
func (p IngestedProduct) Records() []models.Record {
	var out []models.Record
	seen := make(map[string]bool)
	add := func(r *models.Record) {
		if r == nil || r.ID == "" || seen[r.ID] {
			return
		}
		seen[r.ID] = true
		out = append(out, *r)
	}
	add(p.Record)
	for _, c := range p.Components {
		add(c.Record)
		for _, f := range c.Files {
			add(f.Record)
		}
	}
	return out
}
