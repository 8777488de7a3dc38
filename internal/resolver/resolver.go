// Package resolver turns the difference between an instance's installed
// files and a target manifest into an ordered update plan.
package resolver

import (
	"errors"
	"fmt"
	"sort"

	"github.com/opencontainers/go-digest"
	"github.com/segmentio/ksuid"

	"github.com/distantorigin/craftlauncher/internal/manifest"
	"github.com/distantorigin/craftlauncher/internal/paths"
	"github.com/distantorigin/craftlauncher/internal/store"
)

// ErrNoTarget indicates Plan was called without a target manifest
var ErrNoTarget = errors.New("no target manifest")

// Kind says how a task obtains its file
type Kind string

const (
	// KindFull downloads the complete artifact
	KindFull Kind = "full"
	// KindDelta downloads a patch and applies it to the installed file
	KindDelta Kind = "delta"
)

// Task is one file the engine has to produce
type Task struct {
	Path string `json:"path"`
	// Hash is the digest of the finished file
	Hash digest.Digest `json:"hash"`
	// FileSize is the size of the finished file
	FileSize int64  `json:"file_size"`
	Kind     Kind   `json:"kind"`
	URL      string `json:"url"`
	// Size is the number of bytes to transfer
	Size int64 `json:"size"`
	// ArtifactHash is the digest of the delta artifact (delta only)
	ArtifactHash digest.Digest `json:"artifact_hash,omitempty"`
	// BaseHash is the digest the installed file must have (delta only)
	BaseHash digest.Digest `json:"base_hash,omitempty"`
}

// Plan is the work needed to move an instance to Target
type Plan struct {
	ID         string             `json:"id"`
	InstanceID string             `json:"instance_id"`
	From       string             `json:"from,omitempty"`
	Target     *manifest.Manifest `json:"-"`
	Tasks      []Task             `json:"tasks"`
	Removals   []string           `json:"removals,omitempty"`
	// Preserved lists changed paths left alone because they match a
	// preserve pattern and already exist
	Preserved []string `json:"preserved,omitempty"`
}

// TotalBytes is the number of bytes the plan transfers
func (p *Plan) TotalBytes() int64 {
	var total int64
	for _, t := range p.Tasks {
		total += t.Size
	}
	return total
}

// Empty reports whether executing the plan would change nothing
func (p *Plan) Empty() bool {
	return len(p.Tasks) == 0 && len(p.Removals) == 0
}

// Installed is the installed-file record the instance has once the plan
// has been fully applied on top of current
func (p *Plan) Installed(current manifest.Installed) manifest.Installed {
	out := p.Target.Installed()
	for _, path := range p.Preserved {
		if e, ok := current[path]; ok {
			out[path] = e
		}
	}
	return out
}

// Options tune planning
type Options struct {
	// Preserve matches user-owned paths that are never removed or overwritten
	Preserve *paths.Matcher
	// DisableDelta forces full downloads
	DisableDelta bool
}

// Resolver computes update plans
type Resolver struct {
	opts Options
}

// New creates a resolver
func New(opts Options) *Resolver {
	return &Resolver{opts: opts}
}

// Plan computes the tasks and removals that move inst to target. It does
// not touch the filesystem.
func (r *Resolver) Plan(inst *store.Instance, target *manifest.Manifest) (*Plan, error) {
	if target == nil {
		return nil, ErrNoTarget
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}

	plan := &Plan{
		ID:         ksuid.New().String(),
		InstanceID: inst.ID,
		From:       inst.InstalledVersion,
		Target:     target,
		Tasks:      []Task{},
	}
	current := inst.Manifest

	for _, f := range target.Files {
		have, installed := current[f.Path]
		if installed && have.Hash == f.Hash {
			continue
		}
		if installed && r.opts.Preserve.Match(f.Path) {
			plan.Preserved = append(plan.Preserved, f.Path)
			continue
		}
		plan.Tasks = append(plan.Tasks, r.task(inst.InstalledVersion, f, have, installed))
	}

	for _, path := range current.Paths() {
		if _, ok := target.Lookup(path); ok {
			continue
		}
		if r.opts.Preserve.Match(path) {
			continue
		}
		plan.Removals = append(plan.Removals, path)
	}

	sort.SliceStable(plan.Tasks, func(i, j int) bool {
		a, b := plan.Tasks[i], plan.Tasks[j]
		if a.FileSize != b.FileSize {
			return a.FileSize > b.FileSize
		}
		return a.Path < b.Path
	})
	sort.Strings(plan.Preserved)

	return plan, nil
}

func (r *Resolver) task(from string, f manifest.File, have manifest.Entry, installed bool) Task {
	t := Task{
		Path:     f.Path,
		Hash:     f.Hash,
		FileSize: f.Size,
		Kind:     KindFull,
		URL:      f.URL,
		Size:     f.Size,
	}
	if r.opts.DisableDelta || !installed {
		return t
	}
	d, ok := f.DeltaFrom(from, have.Hash)
	if !ok || d.Size >= f.Size {
		return t
	}

	t.Kind = KindDelta
	t.URL = d.URL
	t.Size = d.Size
	t.ArtifactHash = d.Hash
	t.BaseHash = d.BaseHash
	return t
}

// String summarises the plan for logs
func (p *Plan) String() string {
	return fmt.Sprintf("plan %s: %d tasks, %d removals, %d bytes", p.ID, len(p.Tasks), len(p.Removals), p.TotalBytes())
}
