package build

import (
	"encoding/json"
	"io"
	"time"
)

// Structured summary of a run, suitable for JSON encoding.
type Report struct {
	Invocation string        `json:"invocation"`
	Success    bool          `json:"success"`
	Started    time.Time     `json:"started"`
	DurationMS int64         `json:"duration_ms"`
	Stages     []StageReport `json:"stages"`
	Image      *ImageReport  `json:"image,omitempty"`
}

// Summary of one stage.
type StageReport struct {
	ID          string           `json:"id"`
	Status      Status           `json:"status"`
	Reason      string           `json:"reason,omitempty"`
	DurationMS  int64            `json:"duration_ms"`
	Cached      bool             `json:"cached"`
	Fingerprint string           `json:"fingerprint,omitempty"`
	Stdout      string           `json:"stdout,omitempty"`
	Stderr      string           `json:"stderr,omitempty"`
	Artifacts   []ArtifactReport `json:"artifacts,omitempty"`
}

// Summary of one produced artifact.
type ArtifactReport struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}

// Summary of the final image.
type ImageReport struct {
	Digest     string   `json:"digest"`
	Config     string   `json:"config"`
	Entrypoint []string `json:"entrypoint"`
	Ports      []int    `json:"ports,omitempty"`
	Layers     int      `json:"layers"`
	Size       int64    `json:"size"`
}

// Returns the structured report of the run.
//
// Stages are listed in topological order.
func (r *Result) Report() *Report {
	rep := &Report{
		Invocation: r.Invocation,
		Success:    r.Count(Succeeded) == len(r.Stages),
		Started:    r.Started,
		DurationMS: r.Finished.Sub(r.Started).Milliseconds(),
	}

	for _, s := range r.Ordered() {
		sr := StageReport{
			ID:          s.Stage,
			Status:      s.Status,
			DurationMS:  s.Duration().Milliseconds(),
			Cached:      s.Cached,
			Fingerprint: s.Fingerprint.String(),
			Stdout:      s.Stdout,
			Stderr:      s.Stderr,
		}
		if s.Err != nil {
			sr.Reason = s.Err.Error()
		}
		for _, a := range s.Artifacts {
			sr.Artifacts = append(sr.Artifacts, ArtifactReport{Name: a.Name, Digest: a.Digest.String(), Size: a.Size})
		}
		rep.Stages = append(rep.Stages, sr)
	}

	if img := r.Image; img != nil {
		rep.Image = &ImageReport{
			Digest:     img.ManifestDigest.String(),
			Config:     img.ConfigDigest.String(),
			Entrypoint: img.Entrypoint,
			Ports:      img.Ports,
			Layers:     len(img.Layers),
			Size:       img.Size(),
		}
	}

	return rep
}

// Writes the report as indented JSON.
func (rep *Report) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
