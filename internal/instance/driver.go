// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package instance

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/jeranaias/parley/internal/ollama"
)

// =============================================================================
// DRIVER INTERFACE
// =============================================================================

// AvailableModel is one entry of the "models you could install" view.
type AvailableModel struct {
	Tags        []string
	Categories  []string
	Languages   []string
	Description string
	URL         string
}

// Driver is the uniform operation set every backend flavour implements.
type Driver interface {
	// ListLocalModels returns the models installed on the instance.
	ListLocalModels(ctx context.Context) ([]ollama.ModelInfo, error)

	// ListAvailableModels returns the installable catalogue keyed by base
	// name.
	ListAvailableModels(ctx context.Context) (map[string]AvailableModel, error)

	// ModelInfo fetches /api/show for one model reference.
	ModelInfo(ctx context.Context, ref string) (*ollama.ShowResponse, error)

	// PullModel downloads a model, reporting progress through fn.
	PullModel(ctx context.Context, ref string, fn ollama.ProgressFunc) error

	// CreateModel builds a model from a create spec, reporting progress.
	CreateModel(ctx context.Context, spec ollama.CreateRequest, fn ollama.ProgressFunc) error

	// DeleteModel removes a model; the bool reports whether it existed.
	DeleteModel(ctx context.Context, ref string) (bool, error)

	// BlobExists probes HEAD /api/blobs for a sha256 digest.
	BlobExists(ctx context.Context, digest string) (bool, error)

	// UploadBlob streams a local file to the blob endpoint.
	UploadBlob(ctx context.Context, path, digest string) error

	// GGUFExists is the soft blob probe: false on any error.
	GGUFExists(ctx context.Context, digest string) bool

	// ChatStream issues a streaming chat call.
	ChatStream(ctx context.Context, req ollama.ChatRequest, cb ollama.StreamCallback) error

	// ChatOnce issues a non-streaming chat call (title-gen, tool pre-pass).
	ChatOnce(ctx context.Context, req ollama.ChatRequest) (*ollama.ChatResponse, error)
}

// Allowlist persists the cloud "installed models" set per instance.
type Allowlist interface {
	CloudModels(instanceID string) ([]string, error)
	AddCloudModel(instanceID, model string) error
}

// Notifier surfaces non-fatal driver conditions to the user. Nil means
// log-only.
type Notifier func(summary, detail string)

// NewDriver builds the driver for an instance. Cloud instances need an
// allowlist store; other flavours ignore it.
func NewDriver(inst *Instance, list Allowlist, notify Notifier) (Driver, error) {
	switch inst.Flavour {
	case FlavourManaged, FlavourExternal:
		return &httpDriver{inst: inst, client: inst.Client(), notify: notify}, nil
	case FlavourCloud:
		if list == nil {
			return nil, fmt.Errorf("instance %s: cloud driver needs an allowlist store", inst.ID)
		}
		return &cloudDriver{
			httpDriver: httpDriver{inst: inst, client: inst.Client(), notify: notify},
			list:       list,
		}, nil
	default:
		return nil, fmt.Errorf("instance %s: flavour %q has no driver", inst.ID, inst.Flavour)
	}
}

// =============================================================================
// HTTP DRIVER (managed + external)
// =============================================================================

// httpDriver speaks to a live Ollama endpoint. The managed and external
// flavours differ only in who owns the process, which is the supervisor's
// concern, not the driver's.
type httpDriver struct {
	inst   *Instance
	client *ollama.Client
	notify Notifier
}

func (d *httpDriver) ListLocalModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	models, err := d.client.Tags(ctx)
	if err != nil {
		if d.signinRequired(err) {
			return nil, nil
		}
		return nil, err
	}
	return models, nil
}

// signinRequired downgrades an auth failure on a listing to "no models":
// the user gets one sign-in notification and the caller gets an empty
// result instead of an error. Reports whether err was an auth failure.
func (d *httpDriver) signinRequired(err error) bool {
	ae, ok := ollama.AsAuthError(err)
	if !ok {
		return false
	}
	log.Printf("instance %s: %v", d.inst.ID, ae)
	if d.notify != nil {
		d.notify("Sign-in required", "Sign in at "+ae.SigninURL+" to use this instance.")
	}
	return true
}

func (d *httpDriver) ListAvailableModels(ctx context.Context) (map[string]AvailableModel, error) {
	// Local flavours serve the bundled catalogue; the endpoint has no
	// browse API.
	return Catalog(), nil
}

func (d *httpDriver) ModelInfo(ctx context.Context, ref string) (*ollama.ShowResponse, error) {
	return d.client.Show(ctx, ref)
}

func (d *httpDriver) PullModel(ctx context.Context, ref string, fn ollama.ProgressFunc) error {
	return d.client.Pull(ctx, ref, fn)
}

func (d *httpDriver) CreateModel(ctx context.Context, spec ollama.CreateRequest, fn ollama.ProgressFunc) error {
	return d.client.Create(ctx, spec, fn)
}

func (d *httpDriver) DeleteModel(ctx context.Context, ref string) (bool, error) {
	return d.client.Delete(ctx, ref)
}

func (d *httpDriver) BlobExists(ctx context.Context, digest string) (bool, error) {
	return d.client.BlobExists(ctx, digest)
}

func (d *httpDriver) UploadBlob(ctx context.Context, path, digest string) error {
	return d.client.UploadBlob(ctx, path, digest)
}

// GGUFExists swallows probe errors: an unreachable endpoint reads as "not
// installed", which downstream treats as "upload before create".
func (d *httpDriver) GGUFExists(ctx context.Context, digest string) bool {
	ok, err := d.client.BlobExists(ctx, digest)
	if err != nil {
		log.Printf("blob probe %s: %v", digest, err)
		return false
	}
	return ok
}

func (d *httpDriver) ChatStream(ctx context.Context, req ollama.ChatRequest, cb ollama.StreamCallback) error {
	return d.client.ChatStream(ctx, req, cb)
}

func (d *httpDriver) ChatOnce(ctx context.Context, req ollama.ChatRequest) (*ollama.ChatResponse, error) {
	return d.client.ChatOnce(ctx, req)
}

// =============================================================================
// CLOUD DRIVER
// =============================================================================

// cloudDriver layers allowlist semantics over the HTTP driver: "installed"
// cloud models are the persisted allowlist, and pulling is an allowlist
// append rather than a download.
type cloudDriver struct {
	httpDriver
	list Allowlist
}

// ListLocalModels merges the endpoint's tags with the persisted
// allowlist, so models the user "installed" survive endpoints that only
// report active ones.
func (d *cloudDriver) ListLocalModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	models, err := d.client.Tags(ctx)
	if err != nil {
		if d.signinRequired(err) {
			return nil, nil
		}
		return nil, err
	}

	seen := make(map[string]bool, len(models))
	for _, m := range models {
		seen[m.Name] = true
	}

	allowed, err := d.list.CloudModels(d.inst.ID)
	if err != nil {
		log.Printf("cloud allowlist %s: %v", d.inst.ID, err)
		return models, nil
	}
	for _, name := range allowed {
		if !seen[name] {
			models = append(models, ollama.ModelInfo{Name: name})
		}
	}
	return models, nil
}

// ListAvailableModels pivots the endpoint's flat tag list into the
// catalogue shape: `name:tag` splits on the first colon and tags aggregate
// under the base name. Names missing from the bundled catalogue get a
// synthesized entry.
func (d *cloudDriver) ListAvailableModels(ctx context.Context) (map[string]AvailableModel, error) {
	models, err := d.client.Tags(ctx)
	if err != nil {
		return nil, err
	}

	catalog := Catalog()
	out := make(map[string]AvailableModel)
	for _, m := range models {
		name, tag := SplitRef(m.Name)
		entry, ok := out[name]
		if !ok {
			if known, found := catalog[name]; found {
				entry = known
				entry.Tags = nil
			} else {
				entry = AvailableModel{Categories: []string{"cloud"}}
			}
		}
		entry.Tags = append(entry.Tags, tag)
		out[name] = entry
	}
	for name, entry := range out {
		sort.Strings(entry.Tags)
		out[name] = entry
	}
	return out, nil
}

// cloudPullDelay paces the synthetic progress pulses for cloud "pulls".
var cloudPullDelay = 150 * time.Millisecond

// PullModel short-circuits: cloud models are not downloaded, they are
// granted. Appends to the allowlist and fires a timed success.
func (d *cloudDriver) PullModel(ctx context.Context, ref string, fn ollama.ProgressFunc) error {
	if err := d.list.AddCloudModel(d.inst.ID, ref); err != nil {
		return err
	}
	for _, frac := range []float64{0.25, 0.5, 0.75} {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cloudPullDelay):
		}
		if fn != nil {
			fn(ollama.Progress{Status: "requesting access", Fraction: frac})
		}
	}
	if fn != nil {
		fn(ollama.Progress{Status: "success", Fraction: 1, Done: true})
	}
	return nil
}
